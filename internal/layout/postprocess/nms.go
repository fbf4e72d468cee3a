package postprocess

// nms implements step 5: greedily keep detections by descending score,
// dropping a candidate whose inclusive-pixel IoU against an already
// retained detection meets or exceeds the class-aware threshold.
func nms(dets []detection, sameClassIoU, diffClassIoU float64) []detection {
	order := make([]int, len(dets))
	for i := range order {
		order[i] = i
	}
	sortIndicesByScoreDesc(order, dets)

	kept := make([]detection, 0, len(dets))
	for _, idx := range order {
		d := dets[idx]
		suppressed := false
		for _, k := range kept {
			threshold := diffClassIoU
			if d.label == k.label {
				threshold = sameClassIoU
			}
			if inclusiveIoU(d.boxPixel, k.boxPixel) >= threshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

func sortIndicesByScoreDesc(order []int, dets []detection) {
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && dets[order[j-1]].score < dets[order[j]].score; j-- {
			order[j-1], order[j] = order[j], order[j-1]
		}
	}
}

// inclusiveIoU computes IoU using inclusive-pixel areas ((w+1)(h+1)),
// matching spec.md §4.3.7 step 5's exact area convention.
func inclusiveIoU(a, b [4]float64) float64 {
	ax1, ay1, ax2, ay2 := a[0], a[1], a[0]+a[2], a[1]+a[3]
	bx1, by1, bx2, by2 := b[0], b[1], b[0]+b[2], b[1]+b[3]
	ix1, iy1 := max64(ax1, bx1), max64(ay1, by1)
	ix2, iy2 := min64(ax2, bx2), min64(ay2, by2)
	iw, ih := ix2-ix1, iy2-iy1
	if iw < 0 || ih < 0 {
		return 0
	}
	interArea := (iw + 1) * (ih + 1)
	areaA := (ax2 - ax1 + 1) * (ay2 - ay1 + 1)
	areaB := (bx2 - bx1 + 1) * (by2 - by1 + 1)
	union := areaA + areaB - interArea
	if union <= 0 {
		return 0
	}
	return interArea / union
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
