package processor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // register the webp decoder

	"github.com/timkrebs/image-resampler/internal/config"
	"github.com/timkrebs/image-resampler/internal/metrics"
	"github.com/timkrebs/image-resampler/internal/models"
	"github.com/timkrebs/image-resampler/internal/resampler"
	"github.com/timkrebs/image-resampler/internal/surface"
)

// ErrInvalidOperation is returned when a job asks for an unknown operation or
// carries parameters that can never succeed
var ErrInvalidOperation = errors.New("invalid operation")

// ErrUnsupportedImage is returned when the input cannot be decoded
var ErrUnsupportedImage = errors.New("unsupported or corrupt image")

// Settings holds the values applied when an operation leaves a parameter out
type Settings struct {
	Filter       string  `json:"filter"`
	FilterScale  float64 `json:"filter_scale"`
	Sharp        float64 `json:"sharp"`
	Linearize    bool    `json:"linearize"`
	SkipAlpha    bool    `json:"skip_alpha"`
	Wrap         bool    `json:"wrap"`
	MaxDimension int     `json:"max_dimension"`
	MaxPixels    int     `json:"max_pixels"`
}

// DefaultSettings mirrors the service configuration defaults
func DefaultSettings() Settings {
	return Settings{
		Filter:       "lanczos3",
		FilterScale:  resampler.DefaultFilterScale,
		Sharp:        resampler.DefaultSharp,
		Linearize:    true,
		SkipAlpha:    true,
		MaxDimension: 8192,
		MaxPixels:    40_000_000,
	}
}

// SettingsFromConfig reads the resampling defaults from the service config
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Filter:       cfg.ResampleFilter,
		FilterScale:  cfg.ResampleFilterScale,
		Sharp:        cfg.ReduceSharp,
		Linearize:    cfg.ResampleLinearize,
		SkipAlpha:    cfg.ResampleSkipAlpha,
		Wrap:         cfg.ResampleWrap,
		MaxDimension: cfg.MaxDimension,
		MaxPixels:    cfg.MaxSourcePixels,
	}
}

// Processor decodes images, runs resampling operations and encodes the result
type Processor struct {
	metrics  *metrics.ResampleMetrics
	settings Settings
}

// New creates a new image processor
func New(settings Settings) *Processor {
	return &Processor{settings: settings}
}

// SetMetrics enables resampling metrics
func (p *Processor) SetMetrics(m *metrics.ResampleMetrics) {
	p.metrics = m
}

// Settings returns the defaults the processor applies
func (p *Processor) Settings() Settings {
	return p.settings
}

// ProcessResult contains the processed image and metadata
type ProcessResult struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Process decodes an image, applies the given operations in order and encodes
// the result in the source format. Formats without an encoder are written as PNG.
func (p *Processor) Process(reader io.Reader, contentType string, operations []models.Operation) (*ProcessResult, error) {
	if err := p.Validate(operations); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	imgCfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedImage, err)
	}
	// Every sample becomes a float64 during resampling, so refuse to decode
	// oversized sources at all
	if pixels := int64(imgCfg.Width) * int64(imgCfg.Height); p.settings.MaxPixels > 0 && pixels > int64(p.settings.MaxPixels) {
		return nil, fmt.Errorf("%w: source %dx%d exceeds %d pixels",
			ErrUnsupportedImage, imgCfg.Width, imgCfg.Height, p.settings.MaxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedImage, err)
	}

	buf := surface.FromImage(img)
	for _, op := range operations {
		buf, err = p.applyOperation(buf, op)
		if err != nil {
			return nil, fmt.Errorf("failed to apply operation %s: %w", op.Operation, err)
		}
	}

	outFormat, outContentType := outputFormat(format, contentType)

	var out bytes.Buffer
	if err := imaging.Encode(&out, surface.ToNRGBA(buf), outFormat, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", outFormat, err)
	}

	return &ProcessResult{
		Data:        out.Bytes(),
		ContentType: outContentType,
		Width:       buf.Width,
		Height:      buf.Height,
	}, nil
}

var formatContentTypes = map[imaging.Format]string{
	imaging.JPEG: "image/jpeg",
	imaging.PNG:  "image/png",
	imaging.GIF:  "image/gif",
	imaging.TIFF: "image/tiff",
	imaging.BMP:  "image/bmp",
}

// outputFormat picks the encoder for a decoded format name, falling back to
// the declared content type and finally to PNG.
func outputFormat(decoded, contentType string) (imaging.Format, string) {
	if f, err := imaging.FormatFromExtension(decoded); err == nil {
		return f, formatContentTypes[f]
	}
	for f, ct := range formatContentTypes {
		if ct == contentType {
			return f, ct
		}
	}
	return imaging.PNG, "image/png"
}

func (p *Processor) applyOperation(buf *resampler.PixelBuffer, op models.Operation) (*resampler.PixelBuffer, error) {
	switch op.Operation {
	case models.OperationResize:
		return p.resize(buf, op.Parameters)
	case models.OperationReduce:
		return p.reduce(buf, op.Parameters)
	case models.OperationThumbnail:
		return p.thumbnail(buf, op.Parameters)
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidOperation, op.Operation)
	}
}

func getIntParam(params map[string]interface{}, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch val := v.(type) {
		case float64:
			return int(val)
		case int:
			return val
		}
	}
	return defaultVal
}

func getFloatParam(params map[string]interface{}, key string, defaultVal float64) float64 {
	if v, ok := params[key]; ok {
		switch val := v.(type) {
		case float64:
			return val
		case int:
			return float64(val)
		}
	}
	return defaultVal
}

func getBoolParam(params map[string]interface{}, key string, defaultVal bool) bool {
	if v, ok := params[key]; ok {
		if val, ok := v.(bool); ok {
			return val
		}
	}
	return defaultVal
}

func getStringParam(params map[string]interface{}, key, defaultVal string) string {
	if v, ok := params[key]; ok {
		if val, ok := v.(string); ok && val != "" {
			return val
		}
	}
	return defaultVal
}
