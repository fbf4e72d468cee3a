package region

import (
	"image"
	"image/color"
	"testing"
)

func solidPage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestFromNormalized1000ScalesToPixels(t *testing.T) {
	box := FromNormalized1000([4]float64{0, 0, 500, 500}, 200, 100)
	if box.X2 != 100 || box.Y2 != 50 {
		t.Fatalf("unexpected pixel box: %+v", box)
	}
}

func TestClipHandlesInvertedAndOutOfBoundsCoordinates(t *testing.T) {
	box := Box{X1: 50, Y1: -10, X2: -5, Y2: 200}.Clip(20, 20)
	if box.X1 < 0 || box.X2 > 20 || box.Y1 < 0 || box.Y2 > 20 {
		t.Fatalf("expected box clamped to page bounds, got %+v", box)
	}
	if box.X1 > box.X2 {
		t.Fatalf("expected inverted x coordinates to be corrected: %+v", box)
	}
}

func TestCropExtractsRequestedRegion(t *testing.T) {
	page := solidPage(100, 100, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	out, err := Crop(page, [4]float64{0, 0, 500, 500}, nil, 100, 100)
	if err != nil {
		t.Fatalf("Crop() error: %v", err)
	}
	if out.Bounds().Dx() != 50 || out.Bounds().Dy() != 50 {
		t.Fatalf("expected 50x50 crop, got %v", out.Bounds())
	}
	r, g, b, _ := out.At(0, 0).RGBA()
	if r>>8 != 10 || g>>8 != 20 || b>>8 != 30 {
		t.Fatalf("unexpected pixel color in crop: %v %v %v", r, g, b)
	}
}

func TestCropRejectsDegenerateBox(t *testing.T) {
	page := solidPage(10, 10, color.White)
	_, err := Crop(page, [4]float64{900, 900, 900, 900}, nil, 10, 10)
	if err == nil {
		t.Fatalf("expected error for degenerate (zero-area) crop box")
	}
}

func TestCropWithPolygonMasksOutsidePoints(t *testing.T) {
	page := solidPage(10, 10, color.RGBA{R: 1, G: 1, B: 1, A: 255})
	// triangle occupying roughly the left half of the 0..10 box
	polygon := []Point{{X: 0, Y: 0}, {X: 5, Y: 0}, {X: 0, Y: 10}}
	out, err := Crop(page, [4]float64{0, 0, 1000, 1000}, polygon, 10, 10)
	if err != nil {
		t.Fatalf("Crop() error: %v", err)
	}
	// top-right corner should be masked white (outside the triangle)
	r, g, b, _ := out.At(9, 0).RGBA()
	if r>>8 != 255 || g>>8 != 255 || b>>8 != 255 {
		t.Fatalf("expected masked pixel to be white, got %v %v %v", r, g, b)
	}
}

func TestPointInPolygonBasicSquare(t *testing.T) {
	square := []Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	if !pointInPolygon(5, 5, square) {
		t.Fatalf("expected center point to be inside the square")
	}
	if pointInPolygon(15, 15, square) {
		t.Fatalf("expected far point to be outside the square")
	}
}
