// Command resize scales an image file with the resampler.
//
// Usage:
//
//	resize [flags] -in input -out output
//
// The output format follows the extension of -out. A zero -width or -height
// keeps the aspect ratio.
//
// Examples:
//
//	resize -in photo.jpg -out small.png -width 320
//	resize -in photo.jpg -out small.jpg -width 320 -filter cubic -scale 1
//	resize -in icon.png -out icon16.png -width 16 -height 16 -mode reduce -sharp 0.5
//	resize -in photo.jpg -out boxed.png -width 200 -height 200 -pad
//	resize -list
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/timkrebs/image-resampler/internal/resampler"
	"github.com/timkrebs/image-resampler/internal/surface"
)

func main() {
	in := flag.String("in", "", "input image")
	out := flag.String("out", "", "output image, format taken from the extension")
	width := flag.Int("width", 0, "output width, 0 keeps the aspect ratio")
	height := flag.Int("height", 0, "output height, 0 keeps the aspect ratio")
	mode := flag.String("mode", "resize", "resize or reduce")
	filter := flag.String("filter", "lanczos3", "resampling filter, see -list")
	scale := flag.Float64("scale", resampler.DefaultFilterScale, "filter scale when downsampling")
	linear := flag.Bool("linear", true, "resample color in linear light")
	alpha := flag.Bool("alpha", false, "resample the alpha channel instead of making the result opaque")
	sharp := flag.Float64("sharp", resampler.DefaultSharp, "unsharp amount for reduce, in [0,1)")
	wrap := flag.Bool("wrap", false, "store out-of-range samples modulo 256 instead of saturating them")
	pad := flag.Bool("pad", false, "fit inside -width x -height and center on a transparent canvas")
	quality := flag.Int("quality", 90, "JPEG quality")
	list := flag.Bool("list", false, "list available filters")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: resize [flags] -in input -out output\n\n")
		fmt.Fprintf(os.Stderr, "Scales an image with a separable resampling filter or box reduction.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *list {
		listFilters()
		return
	}

	if *in == "" || *out == "" {
		flag.Usage()
		os.Exit(2)
	}

	src, err := imaging.Open(*in, imaging.AutoOrientation(true))
	if err != nil {
		fail(err)
	}
	buf := surface.FromImage(src)

	dstW, dstH := fitSize(buf.Width, buf.Height, *width, *height, *pad)

	start := time.Now()
	var dst *resampler.PixelBuffer
	switch strings.ToLower(*mode) {
	case "resize":
		kernel, err := resampler.KernelByName(*filter)
		if err != nil {
			fail(err)
		}
		dst, err = resampler.Resize(buf, dstW, dstH, resampler.ResizeOptions{
			Filter:      kernel,
			FilterScale: *scale,
			Linearize:   *linear,
			SkipAlpha:   !*alpha,
			Wrap:        *wrap,
		})
		if err != nil {
			fail(err)
		}
	case "reduce":
		dst, err = resampler.Reduce(buf, dstW, dstH, resampler.ReduceOptions{Sharp: *sharp, Wrap: *wrap})
		if err != nil {
			fail(err)
		}
	default:
		fail(fmt.Errorf("unknown mode %q", *mode))
	}
	elapsed := time.Since(start)

	var result image.Image = surface.ToNRGBA(dst)
	if *pad && *width > 0 && *height > 0 {
		canvas := imaging.New(*width, *height, color.NRGBA{})
		surface.Draw(canvas, image.Pt((*width-dst.Width)/2, (*height-dst.Height)/2), dst)
		result = canvas
	}

	if err := imaging.Save(result, *out, imaging.JPEGQuality(*quality)); err != nil {
		fail(err)
	}
	fmt.Printf("%s: %dx%d -> %dx%d (%s, %v)\n", *out, buf.Width, buf.Height,
		result.Bounds().Dx(), result.Bounds().Dy(), *mode, elapsed.Round(time.Microsecond))
}

// fitSize resolves the output size. A zero side follows the aspect ratio;
// with pad both sides bound the result.
func fitSize(srcW, srcH, width, height int, pad bool) (int, int) {
	switch {
	case width <= 0 && height <= 0:
		return srcW, srcH
	case width <= 0:
		return max(1, srcW*height/srcH), height
	case height <= 0:
		return width, max(1, srcH*width/srcW)
	case pad:
		if srcW*height > srcH*width {
			return width, max(1, srcH*width/srcW)
		}
		return max(1, srcW*height/srcH), height
	}
	return width, height
}

func listFilters() {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tRADIUS")
	for _, name := range resampler.KernelNames() {
		k, err := resampler.KernelByName(name)
		if err != nil {
			continue
		}
		fmt.Fprintf(tw, "%s\t%g\n", name, k.Radius)
	}
	tw.Flush()
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "resize: %v\n", err)
	os.Exit(1)
}
