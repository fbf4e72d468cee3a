package decoder

import (
	"math"

	"github.com/tansanrao/glm-ocr-swift/internal/tensor"
)

const anchorEps = 1e-4

func inverseSigmoidClamped(p float64) float64 {
	if p < anchorEps {
		p = anchorEps
	}
	if p > 1-anchorEps {
		p = 1 - anchorEps
	}
	return math.Log(p / (1 - p))
}

// GenerateAnchors builds per-level anchors at grid_size×2^level and
// masks out anchors whose center falls outside (0.01,0.99) or whose
// width/height is invalid (spec.md §4.3.4). Masked rows carry +Inf in
// every coordinate and are reported false in the returned valid mask,
// which Forward uses to keep them out of top-K query selection.
func GenerateAnchors(levelShapes [3][2]int, gridSize float64) (*tensor.Tensor, []bool, error) {
	total := 0
	for _, hw := range levelShapes {
		total += hw[0] * hw[1]
	}
	anchors := tensor.New(1, total, 4)
	valid := make([]bool, total)

	idx := 0
	for lvl, hw := range levelShapes {
		h, w := hw[0], hw[1]
		size := gridSize * math.Pow(2, float64(lvl))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				cx := (float64(x) + 0.5) / float64(w)
				cy := (float64(y) + 0.5) / float64(h)
				aw := size
				ah := size
				ok := cx > 0.01 && cx < 0.99 && cy > 0.01 && cy < 0.99 && aw > 0 && ah > 0 && aw < 1 && ah < 1
				valid[idx] = ok
				base := idx * 4
				if ok {
					anchors.Data[base+0] = float32(inverseSigmoidClamped(cx))
					anchors.Data[base+1] = float32(inverseSigmoidClamped(cy))
					anchors.Data[base+2] = float32(inverseSigmoidClamped(aw))
					anchors.Data[base+3] = float32(inverseSigmoidClamped(ah))
				} else {
					for k := 0; k < 4; k++ {
						anchors.Data[base+k] = float32(math.Inf(1))
					}
				}
				idx++
			}
		}
	}
	return anchors, valid, nil
}
