// Package encoder implements the layout detector's neck: per-level
// input projections, a single AIFI self-attention pass, FPN/PAN
// multi-scale fusion, and the mask-feature head (spec.md §4.3.3).
package encoder

import (
	"fmt"
	"math"

	"github.com/tansanrao/glm-ocr-swift/internal/tensor"
)

const DModel = 256

// ConvBN is a local flat conv+activation unit; the neck does not share
// the backbone package's type since each package owns its own small
// set of forward-pass primitives (spec.md §9 "flat structs ... free
// functions", applied per-component rather than through a shared base).
type ConvBN struct {
	Weight *tensor.Tensor
	Bias   []float32
	Stride int
	Pad    int
}

func (c *ConvBN) forwardRaw(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Conv2D(x, c.Weight, c.Bias, tensor.ConvParams{StrideH: c.Stride, StrideW: c.Stride, PadH: c.Pad, PadW: c.Pad, Groups: 1})
}

func (c *ConvBN) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := c.forwardRaw(x)
	if err != nil {
		return nil, err
	}
	return tensor.SiLU(y), nil
}

// RepVGGBlock sums a 3×3 and a 1×1 convolution branch before the
// activation, the reparameterizable unit CSP-Rep blocks stack.
type RepVGGBlock struct {
	Conv3 ConvBN
	Conv1 ConvBN
}

func (r *RepVGGBlock) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	a, err := r.Conv3.forwardRaw(x)
	if err != nil {
		return nil, err
	}
	b, err := r.Conv1.forwardRaw(x)
	if err != nil {
		return nil, err
	}
	sum, err := tensor.Add(a, b)
	if err != nil {
		return nil, err
	}
	return tensor.SiLU(sum), nil
}

// CSPRepBlock runs three RepVGG blocks in series on one branch and a
// single conv on a parallel branch, then sums the two (spec.md §4.3.3).
type CSPRepBlock struct {
	Main   [3]RepVGGBlock
	Branch ConvBN
}

func (c *CSPRepBlock) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	cur := x
	for i := range c.Main {
		var err error
		cur, err = c.Main[i].forward(cur)
		if err != nil {
			return nil, fmt.Errorf("encoder: csp-rep main %d: %w", i, err)
		}
	}
	branch, err := c.Branch.forward(x)
	if err != nil {
		return nil, fmt.Errorf("encoder: csp-rep branch: %w", err)
	}
	return tensor.Add(cur, branch)
}

// AIFILayer is one transformer-encoder layer: self-attention followed
// by a two-layer feed-forward block, each with a residual + LayerNorm.
type AIFILayer struct {
	QProj, KProj, VProj, OutProj ConvBN1x1
	FFN1, FFN2                   Linear
	Norm1Gamma, Norm1Beta        []float32
	Norm2Gamma, Norm2Beta        []float32
	NumHeads                     int
}

// ConvBN1x1 is a plain linear projection expressed over flattened
// tokens (equivalent to a 1×1 conv once the spatial grid is flattened
// to a sequence for attention).
type ConvBN1x1 struct {
	Weight *tensor.Tensor // [Dout, Din]
	Bias   []float32
}

func (c *ConvBN1x1) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Linear(x, c.Weight, c.Bias)
}

// Linear is a bare weight/bias pair for the FFN.
type Linear struct {
	Weight *tensor.Tensor
	Bias   []float32
}

func (l *Linear) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Linear(x, l.Weight, l.Bias)
}

func sinCosPositionEmbedding(h, w, dim int) (*tensor.Tensor, error) {
	if dim%4 != 0 {
		return nil, fmt.Errorf("encoder: position embedding dim must be divisible by 4, got %d", dim)
	}
	posDim := dim / 4
	pe := tensor.New(1, h*w, dim)
	omega := make([]float64, posDim)
	for i := 0; i < posDim; i++ {
		omega[i] = 1.0 / math.Pow(10000, float64(i)/float64(posDim))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			tok := y*w + x
			base := tok * dim
			for i := 0; i < posDim; i++ {
				sx := float64(x) * omega[i]
				sy := float64(y) * omega[i]
				pe.Data[base+i] = float32(math.Sin(sx))
				pe.Data[base+posDim+i] = float32(math.Cos(sx))
				pe.Data[base+2*posDim+i] = float32(math.Sin(sy))
				pe.Data[base+3*posDim+i] = float32(math.Cos(sy))
			}
		}
	}
	return pe, nil
}

func (a *AIFILayer) forward(x *tensor.Tensor, h, w int) (*tensor.Tensor, error) {
	pe, err := sinCosPositionEmbedding(h, w, x.Shape[2])
	if err != nil {
		return nil, err
	}
	withPos, err := tensor.Add(x, pe)
	if err != nil {
		return nil, fmt.Errorf("encoder: add position embedding: %w", err)
	}
	q, err := a.QProj.forward(withPos)
	if err != nil {
		return nil, err
	}
	k, err := a.KProj.forward(withPos)
	if err != nil {
		return nil, err
	}
	v, err := a.VProj.forward(x)
	if err != nil {
		return nil, err
	}
	b, l, d := x.Shape[0], x.Shape[1], x.Shape[2]
	headDim := d / a.NumHeads
	qh, err := reshapeHeads(q, b, l, a.NumHeads, headDim)
	if err != nil {
		return nil, err
	}
	kh, err := reshapeHeads(k, b, l, a.NumHeads, headDim)
	if err != nil {
		return nil, err
	}
	vh, err := reshapeHeads(v, b, l, a.NumHeads, headDim)
	if err != nil {
		return nil, err
	}
	attnOut, err := tensor.Attention(qh, kh, vh, nil)
	if err != nil {
		return nil, err
	}
	merged, err := mergeHeads(attnOut, b, l, a.NumHeads, headDim)
	if err != nil {
		return nil, err
	}
	projected, err := a.OutProj.forward(merged)
	if err != nil {
		return nil, err
	}
	res1, err := tensor.Add(x, projected)
	if err != nil {
		return nil, err
	}
	norm1, err := tensor.LayerNorm(res1, a.Norm1Gamma, a.Norm1Beta, 1e-5)
	if err != nil {
		return nil, err
	}
	ff1, err := a.FFN1.forward(norm1)
	if err != nil {
		return nil, err
	}
	ffAct := tensor.ReLU(ff1)
	ff2, err := a.FFN2.forward(ffAct)
	if err != nil {
		return nil, err
	}
	res2, err := tensor.Add(norm1, ff2)
	if err != nil {
		return nil, err
	}
	return tensor.LayerNorm(res2, a.Norm2Gamma, a.Norm2Beta, 1e-5)
}

func reshapeHeads(x *tensor.Tensor, b, l, heads, headDim int) (*tensor.Tensor, error) {
	out, err := x.Reshape(b, l, heads, headDim)
	if err != nil {
		return nil, err
	}
	return transposeLH(out, b, l, heads, headDim)
}

// transposeLH permutes [B,L,H,D] -> [B,H,L,D] by explicit copy (no
// generic N-D transpose exists in internal/tensor, so this stays local
// to the one place the encoder needs it).
func transposeLH(x *tensor.Tensor, b, l, heads, headDim int) (*tensor.Tensor, error) {
	out := tensor.New(b, heads, l, headDim)
	for bi := 0; bi < b; bi++ {
		for li := 0; li < l; li++ {
			for hi := 0; hi < heads; hi++ {
				srcBase := ((bi*l+li)*heads + hi) * headDim
				dstBase := ((bi*heads+hi)*l + li) * headDim
				copy(out.Data[dstBase:dstBase+headDim], x.Data[srcBase:srcBase+headDim])
			}
		}
	}
	return out, nil
}

func mergeHeads(x *tensor.Tensor, b, l, heads, headDim int) (*tensor.Tensor, error) {
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
	return out, nil
}

// ScaleHead is one per-scale branch of the mask-feature head: a SiLU
// conv followed by repeated 2× bilinear upsampling until the base
// stride is reached.
type ScaleHead struct {
	Conv         ConvBN
	UpsampleStep int // number of 2x upsample passes
}

func (s *ScaleHead) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	cur, err := s.Conv.forward(x)
	if err != nil {
		return nil, err
	}
	for i := 0; i < s.UpsampleStep; i++ {
		cur, err = tensor.InterpolateBilinear(cur, cur.Shape[2]*2, cur.Shape[3]*2)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// Weights holds every learned tensor the neck needs.
type Weights struct {
	InputProj     [3]ConvBN1x1 // applied to backbone stage features 1..3, flattened to [B,L,D]
	AIFI          AIFILayer
	AIFILevel     int // index into the three projected levels (0..2)
	FPNLateral    [2]ConvBN
	FPNFuse       [2]CSPRepBlock
	PANDownsample [2]ConvBN
	PANFuse       [2]CSPRepBlock
	MaskScaleHeads []ScaleHead
	MaskOutConv    ConvBN
	MaskX4Lateral  ConvBN
	MaskBaseConv   ConvBN
}

// Output carries the encoder's multi-scale features and flattened
// mask features forward to the decoder.
type Output struct {
	Levels       [3]*tensor.Tensor // PAN-fused feature maps, [B,L,D] flattened per level
	LevelShapes  [3][2]int         // (H,W) for each level
	MaskFeatures *tensor.Tensor    // [1,C,Hm,Wm]
}

func flattenSpatial(x *tensor.Tensor) (*tensor.Tensor, int, int, error) {
	if len(x.Shape) != 4 {
		return nil, 0, 0, fmt.Errorf("encoder: expected rank-4 feature map, got shape %v", x.Shape)
	}
	b, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	out := tensor.New(b, h*w, c)
	for bi := 0; bi < b; bi++ {
		for ci := 0; ci < c; ci++ {
			plane := ci * h * w
			for p := 0; p < h*w; p++ {
				out.Data[(bi*h*w+p)*c+ci] = x.Data[bi*c*h*w+plane+p]
			}
		}
	}
	return out, h, w, nil
}

func unflattenSpatial(x *tensor.Tensor, h, w int) (*tensor.Tensor, error) {
	if len(x.Shape) != 3 {
		return nil, fmt.Errorf("encoder: expected rank-3 sequence, got shape %v", x.Shape)
	}
	b, l, c := x.Shape[0], x.Shape[1], x.Shape[2]
	if l != h*w {
		return nil, fmt.Errorf("encoder: sequence length %d does not match %dx%d", l, h, w)
	}
	out := tensor.New(b, c, h, w)
	for bi := 0; bi < b; bi++ {
		for p := 0; p < l; p++ {
			for ci := 0; ci < c; ci++ {
				out.Data[bi*c*h*w+ci*h*w+p] = x.Data[(bi*l+p)*c+ci]
			}
		}
	}
	return out, nil
}

// Forward runs input projection, AIFI, FPN, PAN, and the mask-feature
// head over the backbone's last three stage features.
func Forward(stageFeatures [4]*tensor.Tensor, x4Feature *tensor.Tensor, w *Weights) (*Output, error) {
	var flat [3]*tensor.Tensor
	var hw [3][2]int
	for i := 0; i < 3; i++ {
		seq, h, ww, err := flattenSpatial(stageFeatures[i+1])
		if err != nil {
			return nil, fmt.Errorf("encoder: flatten level %d: %w", i, err)
		}
		proj, err := w.InputProj[i].forward(seq)
		if err != nil {
			return nil, fmt.Errorf("encoder: input projection %d: %w", i, err)
		}
		flat[i] = proj
		hw[i] = [2]int{h, ww}
	}

	lvl := w.AIFILevel
	aifiOut, err := w.AIFI.forward(flat[lvl], hw[lvl][0], hw[lvl][1])
	if err != nil {
		return nil, fmt.Errorf("encoder: AIFI: %w", err)
	}
	flat[lvl] = aifiOut

	spatial := [3]*tensor.Tensor{}
	for i := 0; i < 3; i++ {
		sp, err := unflattenSpatial(flat[i], hw[i][0], hw[i][1])
		if err != nil {
			return nil, err
		}
		spatial[i] = sp
	}

	// FPN top-down: from the deepest level (2) to the shallowest (0).
	fpn := [3]*tensor.Tensor{spatial[0], spatial[1], spatial[2]}
	for i := 1; i >= 0; i-- {
		lateral, err := w.FPNLateral[i].forward(fpn[i+1])
		if err != nil {
			return nil, fmt.Errorf("encoder: FPN lateral %d: %w", i, err)
		}
		up, err := tensor.InterpolateNearest(lateral, lateral.Shape[2]*2, lateral.Shape[3]*2)
		if err != nil {
			return nil, err
		}
		cat, err := tensor.Concat(1, up, fpn[i])
		if err != nil {
			return nil, fmt.Errorf("encoder: FPN concat %d: %w", i, err)
		}
		fused, err := w.FPNFuse[i].forward(cat)
		if err != nil {
			return nil, fmt.Errorf("encoder: FPN fuse %d: %w", i, err)
		}
		fpn[i] = fused
	}

	// PAN bottom-up: from the shallowest level back to the deepest.
	pan := [3]*tensor.Tensor{fpn[0], fpn[1], fpn[2]}
	for i := 0; i < 2; i++ {
		down, err := w.PANDownsample[i].forward(pan[i])
		if err != nil {
			return nil, fmt.Errorf("encoder: PAN downsample %d: %w", i, err)
		}
		cat, err := tensor.Concat(1, down, pan[i+1])
		if err != nil {
			return nil, fmt.Errorf("encoder: PAN concat %d: %w", i, err)
		}
		fused, err := w.PANFuse[i].forward(cat)
		if err != nil {
			return nil, fmt.Errorf("encoder: PAN fuse %d: %w", i, err)
		}
		pan[i+1] = fused
	}

	out := &Output{LevelShapes: hw}
	for i := 0; i < 3; i++ {
		seq, _, _, err := flattenSpatial(pan[i])
		if err != nil {
			return nil, err
		}
		out.Levels[i] = seq
	}

	maskFeatures, err := maskFeatureHead(pan, x4Feature, w)
	if err != nil {
		return nil, fmt.Errorf("encoder: mask feature head: %w", err)
	}
	out.MaskFeatures = maskFeatures
	return out, nil
}

// maskFeatureHead sums per-scale heads run over the PAN features
// (ordered by stride ascending, i.e. pan[0] is the finest level
// already), upsamples, adds the x4 lateral projection, and runs the
// base convs (spec.md §4.3.3).
func maskFeatureHead(pan [3]*tensor.Tensor, x4Feature *tensor.Tensor, w *Weights) (*tensor.Tensor, error) {
	if len(w.MaskScaleHeads) != 3 {
		return nil, fmt.Errorf("encoder: expected 3 mask scale heads, got %d", len(w.MaskScaleHeads))
	}
	var sum *tensor.Tensor
	for i, feat := range pan {
		scaled, err := w.MaskScaleHeads[i].forward(feat)
		if err != nil {
			return nil, fmt.Errorf("encoder: mask scale head %d: %w", i, err)
		}
		if sum == nil {
			sum = scaled
			continue
		}
		sum, err = tensor.Add(sum, scaled)
		if err != nil {
			return nil, fmt.Errorf("encoder: mask scale head sum %d: %w", i, err)
		}
	}
	outConv, err := w.MaskOutConv.forward(sum)
	if err != nil {
		return nil, err
	}
	up, err := tensor.InterpolateBilinear(outConv, outConv.Shape[2]*2, outConv.Shape[3]*2)
	if err != nil {
		return nil, err
	}
	lateral, err := w.MaskX4Lateral.forward(x4Feature)
	if err != nil {
		return nil, err
	}
	if lateral.Shape[2] != up.Shape[2] || lateral.Shape[3] != up.Shape[3] {
		lateral, err = tensor.InterpolateBilinear(lateral, up.Shape[2], up.Shape[3])
		if err != nil {
			return nil, err
		}
	}
	added, err := tensor.Add(up, lateral)
	if err != nil {
		return nil, err
	}
	return w.MaskBaseConv.forward(added)
}
