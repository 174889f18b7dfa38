package resampler

import (
	"fmt"
	"math"
)

// DefaultSharp is the default unsharp amount of Reduce.
const DefaultSharp = 0.3

// ReduceOptions configures Reduce.
type ReduceOptions struct {
	// Sharp is the unsharp amount in [0,1). Zero disables the correction.
	Sharp float64
	// Wrap stores out-of-range results modulo 256 instead of saturating them.
	Wrap bool
}

// DefaultReduceOptions returns sharp 0.3 with saturating write-back.
func DefaultReduceOptions() ReduceOptions {
	return ReduceOptions{Sharp: DefaultSharp}
}

// Reduce shrinks src to dstW x dstH by averaging the source pixels covered by
// each destination cell. It cannot enlarge.
//
// With a non-zero Sharp, every color sample outside the first row and column
// is corrected against its left and top neighbors as already stored in the
// destination:
//
//	v = (average - sharp/2*(left+top)) / (1-sharp)
//
// This makes each pixel depend on previously written output, so pixels are
// produced strictly in row-major order. Alpha is averaged only.
func Reduce(src *PixelBuffer, dstW, dstH int, opts ReduceOptions) (*PixelBuffer, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if dstW < 1 || dstH < 1 {
		return nil, fmt.Errorf("%w: destination %dx%d", ErrInvalidDimension, dstW, dstH)
	}
	if dstW > src.Width || dstH > src.Height {
		return nil, fmt.Errorf("%w: cannot reduce %dx%d to %dx%d",
			ErrInvalidDimension, src.Width, src.Height, dstW, dstH)
	}
	if math.IsNaN(opts.Sharp) || opts.Sharp < 0 || opts.Sharp >= 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSharp, opts.Sharp)
	}

	dst := &PixelBuffer{Width: dstW, Height: dstH, Pix: make([]uint8, dstW*dstH*4)}

	xratio := float64(src.Width) / float64(dstW)
	yratio := float64(src.Height) / float64(dstH)
	keep := 1 - opts.Sharp
	half := opts.Sharp / 2
	stride := dstW * 4

	for i := 0; i < dstH; i++ {
		yfrom := int(math.Floor(yratio * float64(i)))
		yto := int(math.Floor(yratio * float64(i+1)))

		for j := 0; j < dstW; j++ {
			xfrom := int(math.Floor(xratio * float64(j)))
			xto := int(math.Floor(xratio * float64(j+1)))

			var sum [4]float64
			for y := yfrom; y < yto; y++ {
				for x := xfrom; x < xto; x++ {
					s := src.PixOffset(x, y)
					sum[0] += float64(src.Pix[s])
					sum[1] += float64(src.Pix[s+1])
					sum[2] += float64(src.Pix[s+2])
					sum[3] += float64(src.Pix[s+3])
				}
			}

			cnt := float64((xto - xfrom) * (yto - yfrom))
			d := i*stride + j*4
			sharpen := i > 0 && j > 0 && opts.Sharp != 0

			for c := 0; c < 4; c++ {
				v := sum[c] / cnt
				if sharpen && c < 3 {
					left := float64(dst.Pix[d-4+c])
					top := float64(dst.Pix[d-stride+c])
					v = (v - half*(left+top)) / keep
				}
				dst.Pix[d+c] = quantize(v, opts.Wrap)
			}
		}
	}
	return dst, nil
}
