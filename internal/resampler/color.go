package resampler

import "math"

// ToLinear converts an sRGB-encoded value in [0,1] to linear light.
func ToLinear(c float64) float64 {
	if c > 0.04045 {
		return math.Pow((c+0.055)/1.055, 2.4)
	}
	return c / 12.92
}

// ToSRGB converts a linear-light value in [0,1] to its sRGB encoding.
func ToSRGB(c float64) float64 {
	if c > 0.0031308 {
		return 1.055*math.Pow(c, 1/2.4) - 0.055
	}
	return 12.92 * c
}

// linearLUT maps every 8-bit sRGB sample to linear light. Read-only after init.
var linearLUT [256]float64

func init() {
	for i := range linearLUT {
		linearLUT[i] = ToLinear(float64(i) / 255)
	}
}

// LinearLUT returns ToLinear(v/255) from the precomputed table.
func LinearLUT(v uint8) float64 {
	return linearLUT[v]
}
