package storage

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

var contentTypeExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
	"image/tiff": ".tiff",
}

// OriginalKey returns the object key for an uploaded original. Only the base
// name of filename is kept.
func OriginalKey(jobID uuid.UUID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "original"
	}
	return "originals/" + jobID.String() + "/" + name
}

// ResultKey returns the object key for the output of a job
func ResultKey(jobID uuid.UUID, contentType string) string {
	return "results/" + jobID.String() + ExtensionFor(contentType)
}

// ExtensionFor returns the file extension used for a content type
func ExtensionFor(contentType string) string {
	if ext, ok := contentTypeExtensions[contentType]; ok {
		return ext
	}
	return ".bin"
}
