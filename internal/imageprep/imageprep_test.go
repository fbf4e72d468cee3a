package imageprep

import (
	"image"
	"image/color"
	"testing"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestResizeDimensions(t *testing.T) {
	src := solidImage(10, 10, color.RGBA{R: 255, A: 255})
	dst := Resize(src, 800, 800, Bicubic)
	if dst.Bounds().Dx() != 800 || dst.Bounds().Dy() != 800 {
		t.Fatalf("unexpected resized bounds: %v", dst.Bounds())
	}
}

func TestToCHWNormalizedRange(t *testing.T) {
	src := solidImage(2, 2, color.RGBA{R: 255, G: 0, B: 0, A: 255})
	tns, err := ToCHWNormalized(src, nil, nil)
	if err != nil {
		t.Fatalf("ToCHWNormalized() error: %v", err)
	}
	if tns.Shape[0] != 1 || tns.Shape[1] != 3 || tns.Shape[2] != 2 || tns.Shape[3] != 2 {
		t.Fatalf("unexpected shape: %v", tns.Shape)
	}
	// Red channel should be ~1, green/blue ~0.
	if tns.Data[0] < 0.99 {
		t.Fatalf("expected red channel near 1, got %v", tns.Data[0])
	}
	plane := 4
	if tns.Data[plane] > 0.01 {
		t.Fatalf("expected green channel near 0, got %v", tns.Data[plane])
	}
}

func TestToCHWNormalizedMeanStdValidation(t *testing.T) {
	src := solidImage(1, 1, color.Black)
	if _, err := ToCHWNormalized(src, []float32{0, 0}, []float32{1, 1, 1}); err == nil {
		t.Fatalf("expected error for mismatched mean length")
	}
}

func TestWhiteBackgroundOpaque(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 2)) // fully transparent
	dst := WhiteBackground(src)
	r, g, b, a := dst.At(0, 0).RGBA()
	if a != 0xffff || r != 0xffff || g != 0xffff || b != 0xffff {
		t.Fatalf("expected opaque white background, got r=%d g=%d b=%d a=%d", r, g, b, a)
	}
}

func TestSmartResizeWithinBounds(t *testing.T) {
	p := SmartResizeParams{Factor: 28, MinPixels: 256 * 28 * 28, MaxPixels: 1280 * 28 * 28}
	h, w, err := SmartResize(1000, 1400, p)
	if err != nil {
		t.Fatalf("SmartResize() error: %v", err)
	}
	if h%p.Factor != 0 || w%p.Factor != 0 {
		t.Fatalf("expected dims to be multiples of factor, got %dx%d", h, w)
	}
	total := h * w
	if total < p.MinPixels || total > p.MaxPixels {
		t.Fatalf("expected total pixels in [%d,%d], got %d", p.MinPixels, p.MaxPixels, total)
	}
}

func TestSmartResizeRejectsExtremeAspectRatio(t *testing.T) {
	p := SmartResizeParams{Factor: 28, MinPixels: 100, MaxPixels: 1_000_000}
	if _, _, err := SmartResize(10, 3000, p); err == nil {
		t.Fatalf("expected error for aspect ratio beyond 200:1")
	}
}
