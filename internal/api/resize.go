package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/timkrebs/image-resampler/internal/models"
	"github.com/timkrebs/image-resampler/internal/processor"
	"github.com/timkrebs/image-resampler/internal/resampler"
)

// ResizeImage handles POST /api/v1/resize. It resizes the uploaded image in
// the request and returns the encoded result without creating a job.
//
// Operations come from the "operations" JSON field, or from the shorthand
// fields mode (resize, reduce or thumbnail), width, height, size, filter and
// sharp when that field is absent.
func (h *Handlers) ResizeImage(w http.ResponseWriter, r *http.Request) {
	up, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	defer up.file.Close()

	operations := up.operations
	if len(operations) == 0 {
		op, err := shorthandOperation(r)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		operations = []models.Operation{op}
	}

	result, err := h.processor.Process(up.file, up.contentType, operations)
	if err != nil {
		status := processStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("failed to resize image", "error", err)
			h.writeError(w, status, "failed to resize image")
			return
		}
		h.writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.Header().Set("X-Image-Width", strconv.Itoa(result.Width))
	w.Header().Set("X-Image-Height", strconv.Itoa(result.Height))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Data); err != nil {
		h.logger.Error("failed to write image", "error", err)
	}
}

// ListFilters handles GET /api/v1/filters
func (h *Handlers) ListFilters(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"filters":    processor.Filters(),
		"operations": models.OperationTypes,
		"defaults":   h.processor.Settings(),
	})
}

var errInvalidShorthand = errors.New("invalid shorthand parameters")

// shorthandOperation builds a single operation from plain form fields
func shorthandOperation(r *http.Request) (models.Operation, error) {
	mode := models.OperationType(r.FormValue("mode"))
	if mode == "" {
		mode = models.OperationResize
	}

	params := make(map[string]interface{})
	for _, key := range []string{"width", "height", "size", "sharp", "filter_scale"} {
		v := r.FormValue(key)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return models.Operation{}, fmt.Errorf("%w: %s must be a number", errInvalidShorthand, key)
		}
		params[key] = f
	}
	for _, key := range []string{"linearize", "skip_alpha", "wrap"} {
		v := r.FormValue(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return models.Operation{}, fmt.Errorf("%w: %s must be a boolean", errInvalidShorthand, key)
		}
		params[key] = b
	}
	if filter := r.FormValue("filter"); filter != "" {
		params["filter"] = filter
	}

	return models.Operation{Operation: mode, Parameters: params}, nil
}

// processStatus maps a processing error to an HTTP status code
func processStatus(err error) int {
	switch {
	case errors.Is(err, processor.ErrInvalidOperation),
		errors.Is(err, processor.ErrUnsupportedImage):
		return http.StatusBadRequest
	case errors.Is(err, resampler.ErrInvalidDimension),
		errors.Is(err, resampler.ErrInvalidBuffer),
		errors.Is(err, resampler.ErrInvalidFilterScale),
		errors.Is(err, resampler.ErrInvalidSharp),
		errors.Is(err, resampler.ErrUnknownFilter),
		errors.Is(err, resampler.ErrInvalidKernel):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
