// Package decoder implements the layout detector's query selection,
// six-layer deformable-attention decoder, and prediction heads
// (spec.md §4.3.4, §4.3.6).
package decoder

import (
	"fmt"
	"sort"

	"github.com/tansanrao/glm-ocr-swift/internal/tensor"
)

// Linear is a bare weight/bias pair, mirroring the encoder package's
// local primitive rather than sharing a base type across packages.
type Linear struct {
	Weight *tensor.Tensor
	Bias   []float32
}

func (l *Linear) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Linear(x, l.Weight, l.Bias)
}

// MLP3 is a 3-layer MLP with ReLU between layers and a bare linear
// output (spec.md §4.3.4's "3-layer MLP with ReLU" heads).
type MLP3 struct {
	L1, L2, L3 Linear
}

func (m *MLP3) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h1, err := m.L1.forward(x)
	if err != nil {
		return nil, err
	}
	h2, err := m.L2.forward(tensor.ReLU(h1))
	if err != nil {
		return nil, err
	}
	return m.L3.forward(tensor.ReLU(h2))
}

// MLP2 is the two-layer MLP used to build positional embeddings from
// sigmoid(reference_points) before self-attention.
type MLP2 struct {
	L1, L2 Linear
}

func (m *MLP2) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h1, err := m.L1.forward(x)
	if err != nil {
		return nil, err
	}
	return m.L2.forward(tensor.ReLU(h1))
}

// SelfAttnWeights is the decoder layer's standard multi-head
// self-attention over queries.
type SelfAttnWeights struct {
	QProj, KProj, VProj, OutProj Linear
	NumHeads                     int
}

func (s *SelfAttnWeights) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	q, err := s.QProj.forward(x)
	if err != nil {
		return nil, err
	}
	k, err := s.KProj.forward(x)
	if err != nil {
		return nil, err
	}
	v, err := s.VProj.forward(x)
	if err != nil {
		return nil, err
	}
	b, l, d := x.Shape[0], x.Shape[1], x.Shape[2]
	headDim := d / s.NumHeads
	qh, err := reshapeToHeads(q, b, l, s.NumHeads, headDim)
	if err != nil {
		return nil, err
	}
	kh, err := reshapeToHeads(k, b, l, s.NumHeads, headDim)
	if err != nil {
		return nil, err
	}
	vh, err := reshapeToHeads(v, b, l, s.NumHeads, headDim)
	if err != nil {
		return nil, err
	}
	attnOut, err := tensor.Attention(qh, kh, vh, nil)
	if err != nil {
		return nil, err
	}
	merged := mergeFromHeads(attnOut, b, l, s.NumHeads, headDim)
	return s.OutProj.forward(merged)
}

func reshapeToHeads(x *tensor.Tensor, b, l, heads, headDim int) (*tensor.Tensor, error) {
	reshaped, err := x.Reshape(b, l, heads, headDim)
	if err != nil {
		return nil, err
	}
	out := tensor.New(b, heads, l, headDim)
	for bi := 0; bi < b; bi++ {
		for li := 0; li < l; li++ {
			for hi := 0; hi < heads; hi++ {
				srcBase := ((bi*l+li)*heads + hi) * headDim
				dstBase := ((bi*heads+hi)*l + li) * headDim
				copy(out.Data[dstBase:dstBase+headDim], reshaped.Data[srcBase:srcBase+headDim])
			}
		}
	}
	return out, nil
}

func mergeFromHeads(x *tensor.Tensor, b, l, heads, headDim int) *tensor.Tensor {
	out := tensor.New(b, l, heads*headDim)
	for bi := 0; bi < b; bi++ {
		for hi := 0; hi < heads; hi++ {
			for li := 0; li < l; li++ {
				srcBase := ((bi*heads+hi)*l + li) * headDim
				dstBase := (bi*l+li)*heads*headDim + hi*headDim
				copy(out.Data[dstBase:dstBase+headDim], x.Data[srcBase:srcBase+headDim])
			}
		}
	}
	return out
}

// DecoderLayer is one of the six sequential decoder layers.
type DecoderLayer struct {
	PosEmbedMLP MLP2
	SelfAttn    SelfAttnWeights
	Norm1Gamma, Norm1Beta []float32
	CrossAttn   DeformableAttnWeights
	Norm2Gamma, Norm2Beta []float32
	FFN1, FFN2  Linear
	Norm3Gamma, Norm3Beta []float32

	BBoxDelta        MLP3
	ClassHead        MLP3
	MaskQueryMLP     MLP3
	OrderPointerProj Linear
}

// Weights holds the decoder's full parameter set.
type Weights struct {
	EncOutputProj        Linear
	EncOutputNormGamma   []float32
	EncOutputNormBeta    []float32
	InitialClassHead     MLP3
	InitialBBoxHead      MLP3
	NumQueries           int
	MaskEnhanced         bool
	MaskQueryMLP         MLP3
	MaskHeight, MaskWidth int
	Layers               [6]DecoderLayer
	GlobalPointerHeadSize int
	GridSize             float64
}

// LayerOutput is the per-layer auxiliary prediction bundle the spec
// requires after every decoder layer (spec.md §4.3.4).
type LayerOutput struct {
	ClassLogits     *tensor.Tensor // [1,Q,NumClasses]
	ReferencePoints *tensor.Tensor // [1,Q,4] in [0,1]
	MaskLogits      *tensor.Tensor // [1,Q,Mh*Mw]
	Order           []int
}

// Result is the full decoder output: the per-layer predictions, with
// the final layer being the one postprocessing consumes.
type Result struct {
	Layers []LayerOutput
}

func flattenMaskFeatures(mask *tensor.Tensor) (*tensor.Tensor, int, int, error) {
	if len(mask.Shape) != 4 {
		return nil, 0, 0, fmt.Errorf("decoder: expected rank-4 mask features, got %v", mask.Shape)
	}
	b, c, h, w := mask.Shape[0], mask.Shape[1], mask.Shape[2], mask.Shape[3]
	out := tensor.New(b, c, h*w)
	copy(out.Data, mask.Data)
	return out, h, w, nil
}

// Forward runs anchor generation, query selection, the six decoder
// layers, and order-pointer voting over the encoder's multi-scale
// levels and mask features.
func Forward(levels [3]*tensor.Tensor, levelShapes [3][2]int, maskFeatures *tensor.Tensor, w *Weights) (*Result, error) {
	anchorsUnact, validMask, err := GenerateAnchors(levelShapes, w.GridSize)
	if err != nil {
		return nil, err
	}

	concatMemory, err := tensor.Concat(1, levels[0], levels[1], levels[2])
	if err != nil {
		return nil, fmt.Errorf("decoder: concat encoder levels: %w", err)
	}
	projected, err := w.EncOutputProj.forward(concatMemory)
	if err != nil {
		return nil, fmt.Errorf("decoder: encoder output projection: %w", err)
	}
	outputMemory, err := tensor.LayerNorm(projected, w.EncOutputNormGamma, w.EncOutputNormBeta, 1e-5)
	if err != nil {
		return nil, fmt.Errorf("decoder: encoder output layernorm: %w", err)
	}

	classLogitsAll, err := w.InitialClassHead.forward(outputMemory)
	if err != nil {
		return nil, fmt.Errorf("decoder: initial class head: %w", err)
	}
	bboxDeltaAll, err := w.InitialBBoxHead.forward(outputMemory)
	if err != nil {
		return nil, fmt.Errorf("decoder: initial bbox head: %w", err)
	}
	coordLogitsAll, err := tensor.Add(bboxDeltaAll, anchorsUnact)
	if err != nil {
		return nil, fmt.Errorf("decoder: add anchors to bbox deltas: %w", err)
	}

	totalAnchors := outputMemory.Shape[1]
	numClasses := classLogitsAll.Shape[2]
	maxLogit := make([]float32, totalAnchors)
	for i := 0; i < totalAnchors; i++ {
		if !validMask[i] {
			maxLogit[i] = -1e30
			continue
		}
		best := classLogitsAll.Data[i*numClasses]
		for c := 1; c < numClasses; c++ {
			v := classLogitsAll.Data[i*numClasses+c]
			if v > best {
				best = v
			}
		}
		maxLogit[i] = best
	}
	topK := w.NumQueries
	if topK > totalAnchors {
		topK = totalAnchors
	}
	idxs := make([]int, totalAnchors)
	for i := range idxs {
		idxs[i] = i
	}
	sort.Slice(idxs, func(a, b int) bool { return maxLogit[idxs[a]] > maxLogit[idxs[b]] })
	selected := idxs[:topK]

	d := outputMemory.Shape[2]
	target := tensor.New(1, topK, d)
	refUnact := tensor.New(1, topK, 4)
	for qi, src := range selected {
		copy(target.Data[qi*d:(qi+1)*d], outputMemory.Data[src*d:(src+1)*d])
		copy(refUnact.Data[qi*4:(qi+1)*4], coordLogitsAll.Data[src*4:(src+1)*4])
	}

	maskSeq, mh, mw, err := flattenMaskFeatures(maskFeatures)
	if err != nil {
		return nil, err
	}

	if w.MaskEnhanced {
		normed, err := tensor.LayerNorm(target, w.EncOutputNormGamma, w.EncOutputNormBeta, 1e-5)
		if err != nil {
			return nil, err
		}
		maskQuery, err := w.MaskQueryMLP.forward(normed)
		if err != nil {
			return nil, err
		}
		refUnact, err = replaceReferenceWithMaskBoxes(maskQuery, maskSeq, mh, mw, topK)
		if err != nil {
			return nil, err
		}
	}

	result := &Result{Layers: make([]LayerOutput, 0, 6)}
	queries := target
	refPoints := applySigmoid4(refUnact)

	for li := 0; li < 6; li++ {
		layer := &w.Layers[li]
		posEmbed, err := layer.PosEmbedMLP.forward(refPoints)
		if err != nil {
			return nil, err
		}
		withPos, err := tensor.Add(queries, posEmbed)
		if err != nil {
			return nil, err
		}
		selfOut, err := layer.SelfAttn.forward(withPos)
		if err != nil {
			return nil, fmt.Errorf("decoder: layer %d self-attention: %w", li, err)
		}
		res1, err := tensor.Add(queries, selfOut)
		if err != nil {
			return nil, err
		}
		norm1, err := tensor.LayerNorm(res1, layer.Norm1Gamma, layer.Norm1Beta, 1e-5)
		if err != nil {
			return nil, err
		}

		crossOut, err := layer.CrossAttn.Forward(norm1, refPoints, levels, levelShapes)
		if err != nil {
			return nil, fmt.Errorf("decoder: layer %d cross-attention: %w", li, err)
		}
		res2, err := tensor.Add(norm1, crossOut)
		if err != nil {
			return nil, err
		}
		norm2, err := tensor.LayerNorm(res2, layer.Norm2Gamma, layer.Norm2Beta, 1e-5)
		if err != nil {
			return nil, err
		}

		ff1, err := layer.FFN1.forward(norm2)
		if err != nil {
			return nil, err
		}
		ff2, err := layer.FFN2.forward(tensor.ReLU(ff1))
		if err != nil {
			return nil, err
		}
		res3, err := tensor.Add(norm2, ff2)
		if err != nil {
			return nil, err
		}
		norm3, err := tensor.LayerNorm(res3, layer.Norm3Gamma, layer.Norm3Beta, 1e-5)
		if err != nil {
			return nil, err
		}
		queries = norm3

		delta, err := layer.BBoxDelta.forward(queries)
		if err != nil {
			return nil, err
		}
		refUnactUpdated, err := refineReferencePoints(refPoints, delta)
		if err != nil {
			return nil, err
		}
		refPoints = refUnactUpdated

		classLogits, err := layer.ClassHead.forward(queries)
		if err != nil {
			return nil, err
		}
		maskQuery, err := layer.MaskQueryMLP.forward(queries)
		if err != nil {
			return nil, err
		}
		maskLogits, err := tensor.MatMul(maskQuery, maskSeq)
		if err != nil {
			return nil, fmt.Errorf("decoder: layer %d mask logits: %w", li, err)
		}

		globalPointer, err := layer.OrderPointerProj.forward(queries)
		if err != nil {
			return nil, err
		}
		logits := OrderPointerLogits(globalPointer.Data, topK, w.GlobalPointerHeadSize)
		order := VoteOrder(logits)

		result.Layers = append(result.Layers, LayerOutput{
			ClassLogits:     classLogits,
			ReferencePoints: refPoints,
			MaskLogits:      maskLogits,
			Order:           order,
		})
	}
	return result, nil
}

func applySigmoid4(x *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(x.Shape...)
	for i, v := range x.Data {
		out.Data[i] = sigmoidf(v)
	}
	return out
}

// refineReferencePoints computes sigmoid(inverse_sigmoid(reference_points) + delta).
func refineReferencePoints(refPoints, delta *tensor.Tensor) (*tensor.Tensor, error) {
	if len(refPoints.Data) != len(delta.Data) {
		return nil, fmt.Errorf("decoder: reference point / delta length mismatch")
	}
	out := tensor.New(refPoints.Shape...)
	for i := range refPoints.Data {
		out.Data[i] = sigmoidf(inverseSigmoidf(refPoints.Data[i]) + delta.Data[i])
	}
	return out, nil
}

func transposeSeq(x *tensor.Tensor) *tensor.Tensor {
	// x: [1, N, D] -> [1, D, N]
	b, n, d := x.Shape[0], x.Shape[1], x.Shape[2]
	out := tensor.New(b, d, n)
	for bi := 0; bi < b; bi++ {
		for ni := 0; ni < n; ni++ {
			for di := 0; di < d; di++ {
				out.Data[(bi*d+di)*n+ni] = x.Data[(bi*n+ni)*d+di]
			}
		}
	}
	return out
}

// replaceReferenceWithMaskBoxes computes a tight bounding box of the
// positive-mask region for each query's predicted mask and returns
// the inverse-sigmoid of those boxes (spec.md §4.3.4's mask_enhanced
// path). Queries with an empty positive region fall back to a tiny
// centered box.
func replaceReferenceWithMaskBoxes(maskQuery, maskSeq *tensor.Tensor, mh, mw, numQueries int) (*tensor.Tensor, error) {
	d := maskQuery.Shape[2]
	maskDim := maskSeq.Shape[1]
	if d != maskDim {
		return nil, fmt.Errorf("decoder: mask query dim %d does not match mask feature channels %d", d, maskDim)
	}
	out := tensor.New(1, numQueries, 4)
	for qi := 0; qi < numQueries; qi++ {
		qVec := maskQuery.Data[qi*d : (qi+1)*d]
		minX, minY, maxX, maxY := mw, mh, -1, -1
		for y := 0; y < mh; y++ {
			for x := 0; x < mw; x++ {
				p := y*mw + x
				var v float32
				for c := 0; c < d; c++ {
					v += qVec[c] * maskSeq.Data[c*mh*mw+p]
				}
				if sigmoidf(v) > 0.5 {
					if x < minX {
						minX = x
					}
					if x > maxX {
						maxX = x
					}
					if y < minY {
						minY = y
					}
					if y > maxY {
						maxY = y
					}
				}
			}
		}
		var cx, cy, bw, bh float64
		if maxX < minX || maxY < minY {
			cx, cy, bw, bh = 0.5, 0.5, 0.01, 0.01
		} else {
			cx = (float64(minX) + float64(maxX) + 1) / 2 / float64(mw)
			cy = (float64(minY) + float64(maxY) + 1) / 2 / float64(mh)
			bw = float64(maxX-minX+1) / float64(mw)
			bh = float64(maxY-minY+1) / float64(mh)
		}
		base := qi * 4
		out.Data[base+0] = float32(inverseSigmoidClamped(cx))
		out.Data[base+1] = float32(inverseSigmoidClamped(cy))
		out.Data[base+2] = float32(inverseSigmoidClamped(bw))
		out.Data[base+3] = float32(inverseSigmoidClamped(bh))
	}
	return out, nil
}
