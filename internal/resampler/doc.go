// Package resampler resizes 8-bit RGBA pixel buffers.
//
// Two paths are provided:
//
//   - Resize: separable two-pass filter resampling (Lanczos, cubic, Hermite,
//     triangle) with optional linear-light processing. High quality, any ratio.
//   - Reduce: box averaging with an unsharp-style correction. Fast, intended for
//     downscaling by roughly integer ratios.
//
// The building blocks are exported as well: the kernels, the 1D resampler
// (Resample, ResampleFunc) and the sRGB transfer functions work on any numeric
// series, not only pixel rows.
//
// The arithmetic never clamps. Ringing filters such as Lanczos and the
// reducer's sharpening can overshoot [0,255]; such values are rounded half to
// even and saturated only when stored into the 8-bit result. Set Wrap in the
// options to store them modulo 256 instead.
//
// All functions are synchronous and safe for concurrent use. Each call owns its
// intermediate and destination buffers.
package resampler
