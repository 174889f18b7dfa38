// Package surface moves pixels between Go images and resampler buffers. It
// performs no color conversion and no scaling.
package surface

import (
	"image"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/timkrebs/image-resampler/internal/resampler"
)

// FromImage copies img into a new pixel buffer of non-premultiplied RGBA.
func FromImage(img image.Image) *resampler.PixelBuffer {
	// Clone always returns a tightly packed NRGBA anchored at the origin.
	nrgba := imaging.Clone(img)
	return &resampler.PixelBuffer{
		Width:  nrgba.Rect.Dx(),
		Height: nrgba.Rect.Dy(),
		Pix:    nrgba.Pix,
	}
}

// ToNRGBA wraps buf as an image without copying. The image shares buf.Pix.
func ToNRGBA(buf *resampler.PixelBuffer) *image.NRGBA {
	return &image.NRGBA{
		Pix:    buf.Pix,
		Stride: buf.Width * 4,
		Rect:   image.Rect(0, 0, buf.Width, buf.Height),
	}
}

// Draw writes buf onto dst with its top-left corner at p, replacing what was
// there. Pixels falling outside dst are dropped.
func Draw(dst draw.Image, p image.Point, buf *resampler.PixelBuffer) {
	src := ToNRGBA(buf)
	draw.Copy(dst, p, src, src.Bounds(), draw.Src, nil)
}
