package resampler

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kernel is a symmetric filter used by the resampler. Weight is expected to be
// zero for |x| >= Radius; the resampler never asks for weights further out than
// Radius times the current filter widening.
type Kernel struct {
	Radius float64
	Weight func(x float64) float64
}

// At evaluates the kernel, returning 0 outside its support.
func (k Kernel) At(x float64) float64 {
	if math.Abs(x) >= k.Radius {
		return 0
	}
	return k.Weight(x)
}

// IsZero reports whether k is the zero Kernel.
func (k Kernel) IsZero() bool {
	return k.Weight == nil && k.Radius == 0
}

// Lanczos returns the Lanczos windowed-sinc kernel with support radius a.
func Lanczos(a float64) Kernel {
	return Kernel{Radius: a, Weight: func(x float64) float64 {
		if x == 0 {
			return 1
		}
		if x < 0 {
			x = -x
		}
		if x < a {
			x *= math.Pi
			return a * math.Sin(x) * math.Sin(x/a) / (x * x)
		}
		return 0
	}}
}

// Cubic returns a cubic convolution kernel with support radius 2. The sign of a
// is flipped internally, so a=0.5 gives the Catmull-Rom spline.
func Cubic(a float64) Kernel {
	a = -a
	return Kernel{Radius: 2, Weight: func(x float64) float64 {
		if x < 0 {
			x = -x
		}
		xx := x * x
		if x < 1 {
			return (a+2)*xx*x - (a+3)*xx + 1
		}
		if x < 2 {
			return a*xx*x - 5*a*xx + 8*a*x - 4*a
		}
		return 0
	}}
}

var (
	// Lanczos3 is the default filter. Sharp, with some ringing at hard edges.
	Lanczos3 = Lanczos(3)
	// Lanczos8 is a wider Lanczos filter. Slow.
	Lanczos8 = Lanczos(8)
	// CubicDefault is Cubic(0.5).
	CubicDefault = Cubic(0.5)

	// Hermite is the cubic Hermite basis, a smooth alternative to Triangle.
	Hermite = Kernel{Radius: 1, Weight: func(x float64) float64 {
		if x < 0 {
			x = -x
		}
		if x < 1 {
			return (2*x-3)*x*x + 1
		}
		return 0
	}}

	// Triangle is the tent filter, equivalent to bilinear interpolation.
	Triangle = Kernel{Radius: 1, Weight: func(x float64) float64 {
		if x < 0 {
			x = -x
		}
		if x < 1 {
			return 1 - x
		}
		return 0
	}}
)

var kernels = map[string]Kernel{
	"lanczos3": Lanczos3,
	"lanczos8": Lanczos8,
	"cubic":    CubicDefault,
	"hermite":  Hermite,
	"triangle": Triangle,
}

// KernelByName looks up a registered kernel by name, ignoring case.
func KernelByName(name string) (Kernel, error) {
	k, ok := kernels[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Kernel{}, fmt.Errorf("%w: %q", ErrUnknownFilter, name)
	}
	return k, nil
}

// KernelNames returns the registered kernel names in sorted order.
func KernelNames() []string {
	names := make([]string, 0, len(kernels))
	for name := range kernels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
