// Package region crops a page image to a detected region's bounding
// box, optionally compositing a polygon mask over a white background
// so non-region pixels don't leak into recognition (spec.md §4
// "Region cropper").
package region

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

// Point is a pixel-space (x,y) coordinate.
type Point struct {
	X, Y float64
}

// Box is an absolute pixel-space bounding box.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// FromNormalized1000 converts a bbox normalized to [0,1000]^2 into
// absolute page pixels.
func FromNormalized1000(bbox1000 [4]float64, pageWidth, pageHeight int) Box {
	return Box{
		X1: bbox1000[0] / 1000 * float64(pageWidth),
		Y1: bbox1000[1] / 1000 * float64(pageHeight),
		X2: bbox1000[2] / 1000 * float64(pageWidth),
		Y2: bbox1000[3] / 1000 * float64(pageHeight),
	}
}

// Clip clamps b into [0,pageWidth]x[0,pageHeight], correcting any
// inverted coordinates, without ever panicking on out-of-bounds input.
func (b Box) Clip(pageWidth, pageHeight int) Box {
	x1, x2 := b.X1, b.X2
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	y1, y2 := b.Y1, b.Y2
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	x1 = clampF(x1, 0, float64(pageWidth))
	x2 = clampF(x2, 0, float64(pageWidth))
	y1 = clampF(y1, 0, float64(pageHeight))
	y2 = clampF(y2, 0, float64(pageHeight))
	return Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Crop extracts the pixel-space box from page, optionally compositing
// a polygon mask over white so only the polygon's interior survives
// (used when the detector's mask-derived polygon is tighter than the
// axis-aligned box). polygon may be nil or empty to skip masking.
func Crop(page image.Image, bbox1000 [4]float64, polygon []Point, pageWidth, pageHeight int) (*image.RGBA, error) {
	box := FromNormalized1000(bbox1000, pageWidth, pageHeight).Clip(pageWidth, pageHeight)
	x1, y1 := int(box.X1), int(box.Y1)
	x2, y2 := int(box.X2), int(box.Y2)
	if x2 <= x1 || y2 <= y1 {
		return nil, fmt.Errorf("region: degenerate crop box after clipping [%v,%v,%v,%v]", box.X1, box.Y1, box.X2, box.Y2)
	}
	w, h := x2-x1, y2-y1

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), page, image.Point{X: x1, Y: y1}, draw.Src)

	if len(polygon) >= 3 {
		maskPolygon(dst, polygon, x1, y1)
	}
	return dst, nil
}

// maskPolygon paints white every pixel of dst whose page-space
// coordinate (offset by the crop origin) falls outside polygon.
func maskPolygon(dst *image.RGBA, polygon []Point, originX, originY int) {
	b := dst.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			px := float64(x + originX)
			py := float64(y + originY)
			if !pointInPolygon(px, py, polygon) {
				dst.Set(x, y, color.White)
			}
		}
	}
}

// pointInPolygon implements the standard ray-casting test.
func pointInPolygon(x, y float64, poly []Point) bool {
	inside := false
	n := len(poly)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := poly[i], poly[j]
		if (pi.Y > y) != (pj.Y > y) {
			xIntersect := pi.X + (y-pi.Y)/(pj.Y-pi.Y)*(pj.X-pi.X)
			if x < xIntersect {
				inside = !inside
			}
		}
	}
	return inside
}
