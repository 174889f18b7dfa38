package resampler

import (
	"fmt"
	"math"
)

// PixelBuffer is a row-major, channel-interleaved RGBA image with 8 bits per
// channel. Pix holds Width*Height*4 bytes with no row padding. Color is not
// premultiplied by alpha.
type PixelBuffer struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewPixelBuffer allocates a zeroed buffer of the given size.
func NewPixelBuffer(width, height int) (*PixelBuffer, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimension, width, height)
	}
	return &PixelBuffer{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*4),
	}, nil
}

// Validate checks that the buffer has a positive size and matching data.
func (b *PixelBuffer) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil buffer", ErrInvalidBuffer)
	}
	if b.Width < 1 || b.Height < 1 {
		return fmt.Errorf("%w: source %dx%d", ErrInvalidDimension, b.Width, b.Height)
	}
	if len(b.Pix) != b.Width*b.Height*4 {
		return fmt.Errorf("%w: %d bytes for %dx%d", ErrInvalidBuffer, len(b.Pix), b.Width, b.Height)
	}
	return nil
}

// PixOffset returns the index of the first byte of pixel (x, y) in Pix.
func (b *PixelBuffer) PixOffset(x, y int) int {
	return (y*b.Width + x) * 4
}

// RGBAAt returns the four channels of pixel (x, y).
func (b *PixelBuffer) RGBAAt(x, y int) [4]uint8 {
	i := b.PixOffset(x, y)
	return [4]uint8{b.Pix[i], b.Pix[i+1], b.Pix[i+2], b.Pix[i+3]}
}

// SetRGBA sets the four channels of pixel (x, y).
func (b *PixelBuffer) SetRGBA(x, y int, c [4]uint8) {
	i := b.PixOffset(x, y)
	copy(b.Pix[i:i+4], c[:])
}

// Fill sets every pixel to c.
func (b *PixelBuffer) Fill(c [4]uint8) {
	for i := 0; i < len(b.Pix); i += 4 {
		copy(b.Pix[i:i+4], c[:])
	}
}

// quantize stores a real sample value in 8 bits the way a clamped byte array
// does: rounded half to even, then saturated to [0,255]. With wrap set,
// out-of-range results wrap modulo 256 instead.
func quantize(v float64, wrap bool) uint8 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.RoundToEven(v)
	if wrap {
		return uint8(int64(v))
	}
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}
