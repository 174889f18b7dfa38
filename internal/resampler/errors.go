package resampler

import "errors"

var (
	// ErrInvalidDimension is returned when a source or destination size is below 1.
	ErrInvalidDimension = errors.New("resampler: invalid dimension")
	// ErrInvalidBuffer is returned when a pixel buffer's data does not match its size.
	ErrInvalidBuffer = errors.New("resampler: invalid pixel buffer")
	// ErrInvalidFilterScale is returned for a negative or non-finite filter scale.
	ErrInvalidFilterScale = errors.New("resampler: invalid filter scale")
	// ErrInvalidSharp is returned when the reducer's sharp amount is outside [0,1).
	ErrInvalidSharp = errors.New("resampler: sharp must be in [0,1)")
	// ErrUnknownFilter is returned by KernelByName for unregistered names.
	ErrUnknownFilter = errors.New("resampler: unknown filter")
	// ErrInvalidKernel is returned for a kernel without a weight function or with
	// a non-positive radius.
	ErrInvalidKernel = errors.New("resampler: invalid kernel")
)
