package prepare

import (
	"fmt"

	"github.com/tansanrao/glm-ocr-swift/internal/tensor"
)

// Patchify reshapes a normalized [N,C,H,W] image/video tensor into a
// flat (gridT*gridH*gridW) x (C*temporalPatch*patchSize^2) patch
// matrix plus its (t,h,w) grid (spec.md §4.4.1). If N is not a
// multiple of temporalPatch, the last frame is tiled to pad it out.
func Patchify(img *tensor.Tensor, temporalPatch, patchSize int) (*tensor.Tensor, [3]int, error) {
	if len(img.Shape) != 4 {
		return nil, [3]int{}, fmt.Errorf("prepare: Patchify expects [N,C,H,W], got shape %v", img.Shape)
	}
	n, c, h, w := img.Shape[0], img.Shape[1], img.Shape[2], img.Shape[3]
	if h%patchSize != 0 || w%patchSize != 0 {
		return nil, [3]int{}, fmt.Errorf("prepare: H,W (%d,%d) must be multiples of patch size %d", h, w, patchSize)
	}
	nPadded := n
	if nPadded%temporalPatch != 0 {
		nPadded = ((n / temporalPatch) + 1) * temporalPatch
	}
	frame := func(i int) int {
		if i < n {
			return i
		}
		return n - 1
	}

	gridT := nPadded / temporalPatch
	gridH := h / patchSize
	gridW := w / patchSize
	patchDim := c * temporalPatch * patchSize * patchSize

	out := tensor.New(gridT*gridH*gridW, patchDim)
	frameStride := c * h * w
	chanStride := h * w

	patchIdx := 0
	for t := 0; t < gridT; t++ {
		for gh := 0; gh < gridH; gh++ {
			for gw := 0; gw < gridW; gw++ {
				dst := patchIdx * patchDim
				off := 0
				// Channel-outer, temporal-inner so the flattened row
				// matches a conv3d weight's native [Cout,Cin,kt,kh,kw]
				// flatten order with no permutation needed at load time.
				for ci := 0; ci < c; ci++ {
					for tp := 0; tp < temporalPatch; tp++ {
						srcFrame := frame(t*temporalPatch + tp)
						base := srcFrame*frameStride + ci*chanStride
						for py := 0; py < patchSize; py++ {
							rowStart := base + (gh*patchSize+py)*w + gw*patchSize
							copy(out.Data[dst+off:dst+off+patchSize], img.Data[rowStart:rowStart+patchSize])
							off += patchSize
						}
					}
				}
				patchIdx++
			}
		}
	}
	return out, [3]int{gridT, gridH, gridW}, nil
}
