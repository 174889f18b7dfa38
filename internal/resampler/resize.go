package resampler

import (
	"fmt"
)

// ResizeOptions configures Resize. Use DefaultResizeOptions as a starting point:
// the zero value disables linearization and alpha skipping.
type ResizeOptions struct {
	// Filter is the resampling kernel. The zero Kernel selects Lanczos3.
	Filter Kernel
	// FilterScale widens the kernel when downsampling, relative to the ratio.
	// Zero selects DefaultFilterScale.
	FilterScale float64
	// Linearize resamples color channels in linear light.
	Linearize bool
	// SkipAlpha leaves alpha out of the resampling and makes the result opaque.
	SkipAlpha bool
	// Wrap stores out-of-range results modulo 256 instead of saturating them.
	Wrap bool
}

// DefaultResizeOptions returns Lanczos3, filter scale 0.7, linear-light
// processing and an opaque result, saturating out-of-range samples.
func DefaultResizeOptions() ResizeOptions {
	return ResizeOptions{
		Filter:      Lanczos3,
		FilterScale: DefaultFilterScale,
		Linearize:   true,
		SkipAlpha:   true,
	}
}

// resizer carries the per-call state of Resize.
type resizer struct {
	srcW, srcH int
	dstW, dstH int
	samples    []float64
	tmp        []float64
	horizontal *plan
	vertical   *plan
	opts       ResizeOptions
}

// Resize scales src to dstW x dstH with a separable filter: every source row
// is resampled horizontally into a dstW x srcH intermediate buffer, then every
// column of that buffer is resampled vertically into the result. Channels are
// processed one at a time.
func Resize(src *PixelBuffer, dstW, dstH int, opts ResizeOptions) (*PixelBuffer, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if dstW < 1 || dstH < 1 {
		return nil, fmt.Errorf("%w: destination %dx%d", ErrInvalidDimension, dstW, dstH)
	}
	k, err := resolveKernel(opts.Filter)
	if err != nil {
		return nil, err
	}
	filterScale, err := resolveFilterScale(opts.FilterScale)
	if err != nil {
		return nil, err
	}

	z := &resizer{
		srcW:       src.Width,
		srcH:       src.Height,
		dstW:       dstW,
		dstH:       dstH,
		samples:    loadSamples(src.Pix, opts.Linearize),
		tmp:        make([]float64, dstW*src.Height),
		horizontal: newPlan(src.Width, dstW, k, filterScale),
		vertical:   newPlan(src.Height, dstH, k, filterScale),
		opts:       opts,
	}

	dst := &PixelBuffer{Width: dstW, Height: dstH, Pix: make([]uint8, dstW*dstH*4)}

	channels := 4
	if opts.SkipAlpha {
		channels = 3
		for i := 3; i < len(dst.Pix); i += 4 {
			dst.Pix[i] = 255
		}
	}

	for ch := 0; ch < channels; ch++ {
		for y := 0; y < z.srcH; y++ {
			z.scaleRow(y, ch)
		}
		for x := 0; x < z.dstW; x++ {
			z.scaleColumn(x, ch, dst.Pix)
		}
	}
	return dst, nil
}

// loadSamples widens the source bytes to float64. Color samples are mapped to
// linear light when linearize is set; alpha is always copied as is.
func loadSamples(pix []uint8, linearize bool) []float64 {
	samples := make([]float64, len(pix))
	for i, v := range pix {
		if linearize && i%4 != 3 {
			samples[i] = linearLUT[v]
		} else {
			samples[i] = float64(v)
		}
	}
	return samples
}

// scaleRow resamples channel ch of source row y into row y of the
// intermediate buffer.
func (z *resizer) scaleRow(y, ch int) {
	off := y*z.srcW*4 + ch
	row := z.tmp[y*z.dstW : (y+1)*z.dstW]
	for x := range row {
		row[x] = z.horizontal.sample(x, z.samples, off, 4)
	}
}

// scaleColumn resamples column x of the intermediate buffer into channel ch of
// the destination, converting back to sRGB where the samples are linear.
func (z *resizer) scaleColumn(x, ch int, dst []uint8) {
	toSRGB := z.opts.Linearize && ch < 3
	for y := 0; y < z.dstH; y++ {
		v := z.vertical.sample(y, z.tmp, x, z.dstW)
		if toSRGB {
			v = 255 * ToSRGB(v)
		}
		dst[(y*z.dstW+x)*4+ch] = quantize(v, z.opts.Wrap)
	}
}
