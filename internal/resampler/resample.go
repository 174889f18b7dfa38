package resampler

import (
	"fmt"
	"math"
)

// DefaultFilterScale is the widening factor applied to the kernel when
// downsampling, relative to the sample ratio. Values below 1 keep the result
// sharper than a fully band-limited filter would.
const DefaultFilterScale = 0.7

// Reflect maps an out-of-range index back into [0, n) by mirroring at the
// edges without repeating the edge sample: -1 maps to 1 and n maps to n-2.
// Indices more than one period away follow the same modular formula rather
// than a true periodic mirror.
func Reflect(j, n int) int {
	if j < 0 {
		return -j % n
	}
	if j >= n {
		j = (-j - 2) % n
		if j < 0 {
			j += n
		}
	}
	return j
}

// plan holds the precomputed taps for one resampling pass. The taps feeding
// destination sample i are index[offsets[i]:offsets[i+1]] and the matching
// weights. A single plan serves every row (or column) of a pass.
type plan struct {
	scale   float64
	offsets []int
	index   []int
	weight  []float64
}

func newPlan(srcLen, dstLen int, k Kernel, filterScale float64) *plan {
	var ratio, origin float64
	if dstLen > 1 {
		ratio = float64(srcLen-1) / float64(dstLen-1)
	} else {
		// A single destination sample would divide by zero. Sample the middle of
		// the source and widen the filter as if spanning all of it.
		ratio = float64(srcLen - 1)
		origin = ratio / 2
	}

	scale := 1.0
	if ratio > 1 {
		scale = ratio * filterScale
	}
	r := k.Radius * scale

	p := &plan{
		scale:   scale,
		offsets: make([]int, dstLen+1),
	}
	capacity := dstLen * (2*int(math.Ceil(r)) + 1)
	p.index = make([]int, 0, capacity)
	p.weight = make([]float64, 0, capacity)

	for i := 0; i < dstLen; i++ {
		x := origin + ratio*float64(i)
		to := int(math.Floor(x + r))
		for j := int(math.Ceil(x - r)); j <= to; j++ {
			p.index = append(p.index, Reflect(j, srcLen))
			p.weight = append(p.weight, k.At((float64(j)-x)/scale))
		}
		p.offsets[i+1] = len(p.index)
	}
	return p
}

// sample computes destination sample i from a strided view of src: source
// element j lives at src[off+j*stride].
func (p *plan) sample(i int, src []float64, off, stride int) float64 {
	var sum float64
	for t := p.offsets[i]; t < p.offsets[i+1]; t++ {
		sum += src[off+p.index[t]*stride] * p.weight[t]
	}
	return sum / p.scale
}

// Resample resamples src to dstLen samples with kernel k. A zero kernel selects
// Lanczos3 and a zero filterScale selects DefaultFilterScale.
func Resample(src []float64, dstLen int, k Kernel, filterScale float64) ([]float64, error) {
	p, err := preparePlan(len(src), dstLen, k, filterScale)
	if err != nil {
		return nil, err
	}

	dst := make([]float64, dstLen)
	for i := range dst {
		dst[i] = p.sample(i, src, 0, 1)
	}
	return dst, nil
}

// ResampleFunc is the accessor form of Resample for sequences that are not
// stored in a float64 slice. at is only called with indices in [0, srcLen),
// boundary reflection has already been applied. set is called once for every
// destination index, in increasing order.
func ResampleFunc(srcLen, dstLen int, at func(int) float64, set func(int, float64), k Kernel, filterScale float64) error {
	p, err := preparePlan(srcLen, dstLen, k, filterScale)
	if err != nil {
		return err
	}

	for i := 0; i < dstLen; i++ {
		var sum float64
		for t := p.offsets[i]; t < p.offsets[i+1]; t++ {
			sum += at(p.index[t]) * p.weight[t]
		}
		set(i, sum/p.scale)
	}
	return nil
}

func preparePlan(srcLen, dstLen int, k Kernel, filterScale float64) (*plan, error) {
	if srcLen < 1 || dstLen < 1 {
		return nil, fmt.Errorf("%w: %d -> %d samples", ErrInvalidDimension, srcLen, dstLen)
	}
	k, err := resolveKernel(k)
	if err != nil {
		return nil, err
	}
	filterScale, err = resolveFilterScale(filterScale)
	if err != nil {
		return nil, err
	}
	return newPlan(srcLen, dstLen, k, filterScale), nil
}

func resolveKernel(k Kernel) (Kernel, error) {
	if k.IsZero() {
		return Lanczos3, nil
	}
	if k.Weight == nil {
		return Kernel{}, fmt.Errorf("%w: no weight function", ErrInvalidKernel)
	}
	if !(k.Radius > 0) || math.IsInf(k.Radius, 0) {
		return Kernel{}, fmt.Errorf("%w: radius %v", ErrInvalidKernel, k.Radius)
	}
	return k, nil
}

func resolveFilterScale(s float64) (float64, error) {
	if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFilterScale, s)
	}
	if s == 0 {
		return DefaultFilterScale, nil
	}
	return s, nil
}
