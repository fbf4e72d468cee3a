package imageprep

import (
	"fmt"
	"math"
)

// SmartResizeParams mirrors the recognizer's vision preprocessing
// constants (spec.md §4.4.1 "smart resize").
type SmartResizeParams struct {
	Factor    int // patch_size * merge_size
	MinPixels int
	MaxPixels int
}

// SmartResize enforces max(h,w)/min(h,w) <= 200, rounds h,w to the
// nearest multiple of Factor, then rescales by a uniform factor so the
// total pixel count lands in [MinPixels, MaxPixels]: floor toward the
// factor when shrinking, ceil when growing.
func SmartResize(height, width int, p SmartResizeParams) (int, int, error) {
	if height <= 0 || width <= 0 {
		return 0, 0, fmt.Errorf("imageprep: SmartResize requires positive dimensions, got %dx%d", height, width)
	}
	if p.Factor <= 0 {
		return 0, 0, fmt.Errorf("imageprep: SmartResize factor must be positive")
	}
	hi, wi := float64(height), float64(width)
	maxSide, minSide := hi, wi
	if minSide > maxSide {
		maxSide, minSide = minSide, maxSide
	}
	if minSide > 0 && maxSide/minSide > 200 {
		return 0, 0, fmt.Errorf("imageprep: aspect ratio %v exceeds the 200:1 limit", maxSide/minSide)
	}

	roundToFactor := func(v float64) int {
		n := math.Round(v / float64(p.Factor))
		if n < 1 {
			n = 1
		}
		return int(n) * p.Factor
	}
	hBar := roundToFactor(hi)
	wBar := roundToFactor(wi)

	if hBar*wBar > p.MaxPixels {
		beta := math.Sqrt(hi * wi / float64(p.MaxPixels))
		hBar = floorToFactor(hi/beta, p.Factor)
		wBar = floorToFactor(wi/beta, p.Factor)
	} else if hBar*wBar < p.MinPixels {
		beta := math.Sqrt(float64(p.MinPixels) / (hi * wi))
		hBar = ceilToFactor(hi*beta, p.Factor)
		wBar = ceilToFactor(wi*beta, p.Factor)
	}
	if hBar <= 0 || wBar <= 0 {
		return 0, 0, fmt.Errorf("imageprep: SmartResize produced a non-positive dimension")
	}
	return hBar, wBar, nil
}

func floorToFactor(v float64, factor int) int {
	n := int(math.Floor(v / float64(factor)))
	if n < 1 {
		n = 1
	}
	return n * factor
}

func ceilToFactor(v float64, factor int) int {
	n := int(math.Ceil(v / float64(factor)))
	if n < 1 {
		n = 1
	}
	return n * factor
}
