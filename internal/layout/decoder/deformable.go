// Deformable cross-attention (spec.md §4.3.5). Implemented as flat
// index arithmetic over contiguous buffers rather than per-sample
// object graphs, per spec.md §9's "Arena + index" design note.
package decoder

import (
	"fmt"

	"github.com/tansanrao/glm-ocr-swift/internal/tensor"
)

// DeformableAttnWeights holds the learned projections for one
// deformable cross-attention module.
type DeformableAttnWeights struct {
	SamplingOffsets  Linear // -> numHeads*numLevels*numPoints*numCoordinates
	AttentionWeights Linear // -> numHeads*numLevels*numPoints
	ValueProj        [3]Linear // one per encoder level, -> numHeads*headDim
	OutputProj       Linear
	NumHeads         int
	NumLevels        int
	NumPoints        int
	NumCoordinates   int // 2 or 4
	HeadDim          int
}

func buildValuePlanes(levels [3]*tensor.Tensor, levelShapes [3][2]int, w *DeformableAttnWeights) ([3][][]float32, error) {
	var planes [3][][]float32
	for l := 0; l < 3; l++ {
		proj, err := w.ValueProj[l].forward(levels[l])
		if err != nil {
			return planes, fmt.Errorf("decoder: value projection level %d: %w", l, err)
		}
		h, ww := levelShapes[l][0], levelShapes[l][1]
		n := h * ww
		totalDim := w.NumHeads * w.HeadDim
		levelPlanes := make([][]float32, totalDim)
		for c := 0; c < totalDim; c++ {
			levelPlanes[c] = make([]float32, n)
			for p := 0; p < n; p++ {
				levelPlanes[c][p] = proj.Data[p*totalDim+c]
			}
		}
		planes[l] = levelPlanes
	}
	return planes, nil
}

// Forward runs deformable cross-attention for every query against the
// encoder's multi-scale value planes.
func (w *DeformableAttnWeights) Forward(query *tensor.Tensor, referencePoints *tensor.Tensor, levels [3]*tensor.Tensor, levelShapes [3][2]int) (*tensor.Tensor, error) {
	if len(query.Shape) != 3 {
		return nil, fmt.Errorf("decoder: deformable attention expects [B,Q,D] query, got %v", query.Shape)
	}
	b, q, _ := query.Shape[0], query.Shape[1], query.Shape[2]
	planes, err := buildValuePlanes(levels, levelShapes, w)
	if err != nil {
		return nil, err
	}

	offsets, err := w.SamplingOffsets.forward(query)
	if err != nil {
		return nil, fmt.Errorf("decoder: sampling offsets: %w", err)
	}
	rawWeights, err := w.AttentionWeights.forward(query)
	if err != nil {
		return nil, fmt.Errorf("decoder: attention weights: %w", err)
	}

	out := tensor.New(b, q, w.NumHeads*w.HeadDim)
	lp := w.NumLevels * w.NumPoints
	for bi := 0; bi < b; bi++ {
		for qi := 0; qi < q; qi++ {
			refBase := (bi*q + qi) * w.NumCoordinates
			rx := float64(referencePoints.Data[refBase+0])
			ry := float64(referencePoints.Data[refBase+1])
			var rw, rh float64 = 1, 1
			if w.NumCoordinates == 4 {
				rw = float64(referencePoints.Data[refBase+2])
				rh = float64(referencePoints.Data[refBase+3])
			}
			for h := 0; h < w.NumHeads; h++ {
				weightBase := ((bi*q+qi)*w.NumHeads + h) * lp
				softmaxed := softmax1D(rawWeights.Data[weightBase : weightBase+lp])
				outBase := (bi*q+qi)*w.NumHeads*w.HeadDim + h*w.HeadDim
				for l := 0; l < w.NumLevels; l++ {
					lh, lw := levelShapes[l][0], levelShapes[l][1]
					for pt := 0; pt < w.NumPoints; pt++ {
						offBase := (((((bi*q+qi)*w.NumHeads+h)*w.NumLevels+l)*w.NumPoints)+pt)*w.NumCoordinates
						var ox, oy float64
						if w.NumCoordinates == 4 {
							ox = float64(offsets.Data[offBase+0]) * 0.5 * rw / float64(w.NumPoints)
							oy = float64(offsets.Data[offBase+1]) * 0.5 * rh / float64(w.NumPoints)
						} else {
							ox = float64(offsets.Data[offBase+0]) / float64(lw)
							oy = float64(offsets.Data[offBase+1]) / float64(lh)
						}
						sampleX := float32((rx+ox)*float64(lw) - 0.5)
						sampleY := float32((ry+oy)*float64(lh) - 0.5)
						weight := softmaxed[l*w.NumPoints+pt]
						for c := 0; c < w.HeadDim; c++ {
							plane := planes[l][h*w.HeadDim+c]
							v := tensor.BilinearSampleAt(plane, lh, lw, sampleX, sampleY)
							out.Data[outBase+c] += v * weight
						}
					}
				}
			}
		}
	}
	return w.OutputProj.forward(out)
}

func softmax1D(x []float32) []float32 {
	max := x[0]
	for _, v := range x[1:] {
		if v > max {
			max = v
		}
	}
	out := make([]float32, len(x))
	var sum float32
	for i, v := range x {
		e := expf(v - max)
		out[i] = e
		sum += e
	}
	if sum == 0 {
		sum = 1
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
