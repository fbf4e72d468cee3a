package postprocess

import "github.com/tansanrao/glm-ocr-swift/internal/config"

// largeImageFilter implements step 6: drops image-labeled detections
// whose area exceeds the page-orientation-dependent threshold, but
// only when more than one detection remains overall.
func largeImageFilter(dets []detection, pageWidth, pageHeight int) []detection {
	if len(dets) <= 1 {
		return dets
	}
	pageArea := float64(pageWidth) * float64(pageHeight)
	threshold := 0.82
	if pageWidth > pageHeight {
		threshold = 0.93
	}
	out := make([]detection, 0, len(dets))
	for _, d := range dets {
		area := d.boxPixel[2] * d.boxPixel[3]
		if d.label == "image" && area > threshold*pageArea {
			continue
		}
		out = append(out, d)
	}
	return out
}

// preservedContainmentLabels are never dropped by the containment
// filter even when nominally contained/containing.
var preservedContainmentLabels = map[string]bool{"image": true, "seal": true, "chart": true}

// containmentFilter implements step 7: for "large" merge-mode
// classes, drop a detection contained in another detection of that
// class (intersection/own-area >= 0.8); for "small", drop a detection
// that contains another of that class unless itself contained.
func containmentFilter(dets []detection, mergeMode map[string]config.MergeMode) []detection {
	n := len(dets)
	drop := make([]bool, n)
	for i := 0; i < n; i++ {
		if preservedContainmentLabels[dets[i].label] {
			continue
		}
		mode := mergeMode[dets[i].label]
		if mode == config.MergeModeNone || mode == "" {
			continue
		}
		for j := 0; j < n; j++ {
			if i == j || dets[j].label != dets[i].label {
				continue
			}
			ownArea := dets[i].boxPixel[2] * dets[i].boxPixel[3]
			if ownArea <= 0 {
				continue
			}
			inter := intersectionArea(dets[i].boxPixel, dets[j].boxPixel)
			ratio := inter / ownArea
			switch mode {
			case config.MergeModeLarge:
				if ratio >= 0.8 {
					drop[i] = true
				}
			case config.MergeModeSmall:
				containsOther := isContained(dets[j].boxPixel, dets[i].boxPixel)
				selfContained := isContained(dets[i].boxPixel, dets[j].boxPixel)
				if containsOther && !selfContained {
					drop[i] = true
				}
			}
		}
	}
	out := make([]detection, 0, n)
	for i, d := range dets {
		if !drop[i] {
			out = append(out, d)
		}
	}
	return out
}

func intersectionArea(a, b [4]float64) float64 {
	ax1, ay1, ax2, ay2 := a[0], a[1], a[0]+a[2], a[1]+a[3]
	bx1, by1, bx2, by2 := b[0], b[1], b[0]+b[2], b[1]+b[3]
	ix1, iy1 := max64(ax1, bx1), max64(ay1, by1)
	ix2, iy2 := min64(ax2, bx2), min64(ay2, by2)
	iw, ih := ix2-ix1, iy2-iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	return iw * ih
}

// isContained reports whether inner is contained (intersection/own
// area >= 0.8) in outer.
func isContained(inner, outer [4]float64) bool {
	area := inner[2] * inner[3]
	if area <= 0 {
		return false
	}
	return intersectionArea(inner, outer)/area >= 0.8
}
