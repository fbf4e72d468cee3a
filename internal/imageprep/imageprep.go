// Package imageprep turns decoded images into normalized tensors ready
// for the layout detector and recognizer (spec.md §4.3.1, §4.4.1).
//
// Resampling is delegated to golang.org/x/image/draw, the same
// resize primitive the teacher's font/image handling reaches for
// (grounded on wudi-pdfkit/fonts, which imports golang.org/x/image
// subpackages for geometric image work) rather than a hand-rolled
// bicubic kernel.
package imageprep

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/tansanrao/glm-ocr-swift/internal/tensor"
)

// Interpolation selects the resampling kernel.
type Interpolation int

const (
	Nearest Interpolation = iota
	Bicubic
)

func scaler(i Interpolation) draw.Interpolator {
	if i == Nearest {
		return draw.NearestNeighbor
	}
	return draw.CatmullRom // bicubic-family kernel, spec.md's "high-quality interpolation"
}

// Resize resamples src to exactly (w,h) using the requested kernel.
func Resize(src image.Image, w, h int, interp Interpolation) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	scaler(interp).Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

// ToCHWNormalized converts an RGBA image into a [1,3,H,W] float32
// tensor with values in [0,1], subtracting mean and dividing by std
// per channel (mean/std of length 3, or nil for plain [0,1] scaling).
func ToCHWNormalized(img *image.RGBA, mean, std []float32) (*tensor.Tensor, error) {
	if mean != nil && len(mean) != 3 {
		return nil, fmt.Errorf("imageprep: mean must have 3 elements, got %d", len(mean))
	}
	if std != nil && len(std) != 3 {
		return nil, fmt.Errorf("imageprep: std must have 3 elements, got %d", len(std))
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	t := tensor.New(1, 3, h, w)
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			rf := float32(r) / 65535
			gf := float32(g) / 65535
			bf := float32(bl) / 65535
			if mean != nil {
				rf = (rf - mean[0]) / std[0]
				gf = (gf - mean[1]) / std[1]
				bf = (bf - mean[2]) / std[2]
			}
			idx := y*w + x
			t.Data[0*plane+idx] = rf
			t.Data[1*plane+idx] = gf
			t.Data[2*plane+idx] = bf
		}
	}
	return t, nil
}

// DecodeToTensor resizes src to (w,h) with the given interpolation and
// converts to a normalized [1,3,h,w] tensor, the composed step
// spec.md §4.3.1 requires for layout detector input preparation.
func DecodeToTensor(src image.Image, w, h int, interp Interpolation, mean, std []float32) (*tensor.Tensor, error) {
	resized := Resize(src, w, h, interp)
	return ToCHWNormalized(resized, mean, std)
}

// WhiteBackground composites src over an opaque white canvas of the
// same size, used by the page loader when rasterizing PDF pages
// (spec.md §4.2: "rasterized to an RGB bitmap over a white background").
func WhiteBackground(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, b, src, b.Min, draw.Over)
	return dst
}
