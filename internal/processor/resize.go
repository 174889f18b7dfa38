package processor

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/timkrebs/image-resampler/internal/resampler"
	"github.com/timkrebs/image-resampler/internal/surface"
)

const (
	pathResize = "resize"
	pathReduce = "reduce"
)

// resize scales the image with the separable filter resampler. A zero width
// or height keeps the aspect ratio.
func (p *Processor) resize(buf *resampler.PixelBuffer, params map[string]interface{}) (*resampler.PixelBuffer, error) {
	width, height := fitDimensions(buf.Width, buf.Height,
		getIntParam(params, "width", 0), getIntParam(params, "height", 0))
	if err := p.checkSize(width, height); err != nil {
		return nil, err
	}

	opts, name, err := p.resizeOptions(params)
	if err != nil {
		return nil, err
	}
	return p.observe(pathResize, name, func() (*resampler.PixelBuffer, error) {
		return resampler.Resize(buf, width, height, opts)
	})
}

// reduce downscales the image by box averaging with neighbor sharpening
func (p *Processor) reduce(buf *resampler.PixelBuffer, params map[string]interface{}) (*resampler.PixelBuffer, error) {
	width, height := fitDimensions(buf.Width, buf.Height,
		getIntParam(params, "width", 0), getIntParam(params, "height", 0))
	if err := p.checkSize(width, height); err != nil {
		return nil, err
	}

	opts := resampler.ReduceOptions{
		Sharp: getFloatParam(params, "sharp", p.settings.Sharp),
		Wrap:  getBoolParam(params, "wrap", p.settings.Wrap),
	}
	return p.observe(pathReduce, "box", func() (*resampler.PixelBuffer, error) {
		return resampler.Reduce(buf, width, height, opts)
	})
}

// thumbnail resizes the image to cover a size x size square, then crops the
// center of it
func (p *Processor) thumbnail(buf *resampler.PixelBuffer, params map[string]interface{}) (*resampler.PixelBuffer, error) {
	size := getIntParam(params, "size", 150)

	width, height := coverDimensions(buf.Width, buf.Height, size)
	if err := p.checkSize(width, height); err != nil {
		return nil, err
	}
	opts, name, err := p.resizeOptions(params)
	if err != nil {
		return nil, err
	}
	scaled, err := p.observe(pathResize, name, func() (*resampler.PixelBuffer, error) {
		return resampler.Resize(buf, width, height, opts)
	})
	if err != nil {
		return nil, err
	}
	if width == size && height == size {
		return scaled, nil
	}
	return surface.FromImage(imaging.CropCenter(surface.ToNRGBA(scaled), size, size)), nil
}

// checkSize rejects output sizes over MaxDimension, including sides derived
// from the aspect ratio
func (p *Processor) checkSize(width, height int) error {
	if width > p.settings.MaxDimension || height > p.settings.MaxDimension {
		return fmt.Errorf("%w: result %dx%d exceeds %d", ErrInvalidOperation, width, height, p.settings.MaxDimension)
	}
	return nil
}

// resizeOptions builds resampler options from operation parameters, falling
// back to the processor settings. It also returns the filter label used in
// metrics.
func (p *Processor) resizeOptions(params map[string]interface{}) (resampler.ResizeOptions, string, error) {
	name := strings.ToLower(strings.TrimSpace(getStringParam(params, "filter", p.settings.Filter)))
	kernel, err := kernelFor(name, params)
	if err != nil {
		return resampler.ResizeOptions{}, "", err
	}
	return resampler.ResizeOptions{
		Filter:      kernel,
		FilterScale: getFloatParam(params, "filter_scale", p.settings.FilterScale),
		Linearize:   getBoolParam(params, "linearize", p.settings.Linearize),
		SkipAlpha:   getBoolParam(params, "skip_alpha", p.settings.SkipAlpha),
		Wrap:        getBoolParam(params, "wrap", p.settings.Wrap),
	}, name, nil
}

// kernelFor resolves a filter name. The lanczos family accepts a custom
// radius and cubic accepts a custom a.
func kernelFor(name string, params map[string]interface{}) (resampler.Kernel, error) {
	switch {
	case name == "lanczos" || (strings.HasPrefix(name, "lanczos") && hasParam(params, "radius")):
		return resampler.Lanczos(getFloatParam(params, "radius", 3)), nil
	case name == "cubic" && hasParam(params, "a"):
		return resampler.Cubic(getFloatParam(params, "a", 0.5)), nil
	}
	return resampler.KernelByName(name)
}

func hasParam(params map[string]interface{}, key string) bool {
	_, ok := params[key]
	return ok
}

// fitDimensions fills in a zero width or height from the source aspect ratio
func fitDimensions(srcW, srcH, width, height int) (int, int) {
	switch {
	case width == 0 && height == 0:
		return srcW, srcH
	case width == 0:
		width = int(math.Round(float64(srcW) * float64(height) / float64(srcH)))
		if width < 1 {
			width = 1
		}
	case height == 0:
		height = int(math.Round(float64(srcH) * float64(width) / float64(srcW)))
		if height < 1 {
			height = 1
		}
	}
	return width, height
}

// coverDimensions returns the smallest size preserving the aspect ratio that
// covers a size x size square
func coverDimensions(srcW, srcH, size int) (int, int) {
	scale := math.Max(float64(size)/float64(srcW), float64(size)/float64(srcH))
	width := int(math.Round(float64(srcW) * scale))
	height := int(math.Round(float64(srcH) * scale))
	return max(width, size), max(height, size)
}

func (p *Processor) observe(path, filter string, fn func() (*resampler.PixelBuffer, error)) (*resampler.PixelBuffer, error) {
	start := time.Now()
	out, err := fn()
	if p.metrics == nil {
		return out, err
	}
	if err != nil {
		p.metrics.Failures.WithLabelValues(path).Inc()
		return nil, err
	}
	p.metrics.Duration.WithLabelValues(path, filter).Observe(time.Since(start).Seconds())
	p.metrics.OutputPixels.WithLabelValues(path, filter).Add(float64(out.Width * out.Height))
	return out, nil
}

// FilterInfo describes a named resampling filter
type FilterInfo struct {
	Name   string  `json:"name"`
	Radius float64 `json:"radius"`
}

// Filters lists the named filters a job may ask for
func Filters() []FilterInfo {
	names := resampler.KernelNames()
	filters := make([]FilterInfo, 0, len(names))
	for _, name := range names {
		k, err := resampler.KernelByName(name)
		if err != nil {
			continue
		}
		filters = append(filters, FilterInfo{Name: name, Radius: k.Radius})
	}
	return filters
}
