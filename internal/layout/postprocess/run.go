package postprocess

import (
	"math"

	"github.com/tansanrao/glm-ocr-swift/internal/config"
)

// MaskThreshold is the fixed detection threshold used to binarize a
// query's predicted mask before polygon extraction (spec.md §4.3.7
// step 2).
const MaskThreshold = 0.5

const topQCandidates = 300

// Run executes the full ten-step postprocessing pipeline over one
// page's decoder output.
func Run(in Input, cfg config.LayoutConfig, classifier labelClassifier) ([]Detection, []string) {
	var warnings []string

	candidates := selectCandidates(in, topQCandidates, cfg.Threshold, cfg.ThresholdByClass)

	dets := make([]detection, 0, len(candidates))
	for _, c := range candidates {
		poly := extractPolygon(&c, MaskThreshold)
		dets = append(dets, detection{
			label:    c.label,
			score:    c.score,
			order:    c.order,
			boxPixel: c.boxPixel,
			polygon:  poly,
		})
	}

	if cfg.LayoutNMS {
		dets = nms(dets, 0.6, 0.98)
	}

	dets = largeImageFilter(dets, in.TargetWidth, in.TargetHeight)
	dets = containmentFilter(dets, cfg.MergeBBoxesMode)

	pageW, pageH := float64(in.TargetWidth), float64(in.TargetHeight)
	for i := range dets {
		dets[i] = unclip(dets[i], cfg.UnclipRatioX, cfg.UnclipRatioY, pageW, pageH)
	}

	out := make([]Detection, 0, len(dets))
	idx := 0
	for _, d := range dets {
		x := math.Trunc(d.boxPixel[0])
		y := math.Trunc(d.boxPixel[1])
		w := math.Trunc(d.boxPixel[2])
		h := math.Trunc(d.boxPixel[3])
		if w <= 0 || h <= 0 {
			continue
		}
		x1, y1, x2, y2 := x, y, x+w, y+h
		bbox := [4]float64{
			normalize1000(x1, pageW),
			normalize1000(y1, pageH),
			normalize1000(x2, pageW),
			normalize1000(y2, pageH),
		}
		task := mapLabelToTask(d.label, d.score, cfg.LabelTaskMapping, classifier)
		out = append(out, Detection{
			Index:    idx,
			Label:    d.label,
			Task:     task,
			Score:    d.score,
			BBox1000: bbox,
			Polygon:  d.polygon,
		})
		idx++
	}
	return out, warnings
}

func normalize1000(v, extent float64) float64 {
	if extent <= 0 {
		return 0
	}
	n := v / extent * 1000
	return clamp(n, 0, 1000)
}
