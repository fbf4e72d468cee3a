// Package vision implements the recognizer's vision tower: 3D patch
// embedding, 2D rotary position embedding, windowed self-attention over
// per-image cumulative sequence lengths, a stack of gated-MLP
// transformer blocks, spatial downsampling, and the patch merger that
// projects vision features into the language model's embedding space
// (spec.md §4.4.2).
package vision

import (
	"fmt"
	"math"

	"github.com/tansanrao/glm-ocr-swift/internal/tensor"
)

// Config holds the vision tower's architecture hyperparameters. These
// are checkpoint properties, not user-facing pipeline configuration, so
// they live alongside the weights rather than in internal/config.
type Config struct {
	PatchSize     int
	TemporalPatch int
	SpatialMerge  int
	HiddenSize    int
	NumHeads      int
	Depth         int
	Eps           float32
	OutHiddenSize int
	RopeTheta     float64
}

// Linear bundles a weight matrix with its bias.
type Linear struct {
	Weight *tensor.Tensor
	Bias   []float32
}

func (l Linear) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Linear(x, l.Weight, l.Bias)
}

// BlockWeights is one RMSNorm -> windowed self-attention -> residual ->
// RMSNorm -> gated-MLP -> residual transformer block.
type BlockWeights struct {
	Norm1Weight []float32
	QProj       Linear
	KProj       Linear
	VProj       Linear
	OutProj     Linear
	Norm2Weight []float32
	Gate        Linear
	Up          Linear
	Down        Linear
}

// MergerWeights is the final patch-merger head.
type MergerWeights struct {
	Proj     Linear
	LNGamma  []float32
	LNBeta   []float32
	Gate     Linear
	Up       Linear
	Down     Linear
}

// Weights is the full vision tower parameter set.
type Weights struct {
	Config         Config
	PatchEmbed     Linear // conv weight pre-flattened to [hidden, C*temporalPatch*patch^2]
	Blocks         []BlockWeights
	PostNormWeight []float32
	Downsample     *tensor.Tensor // conv2d weight [hidden, hidden, merge, merge]
	DownsampleBias []float32
	Merger         MergerWeights
}

// ImageGrid describes one image/video's patch grid, as produced by
// prepare.Patchify.
type ImageGrid struct {
	T, H, W int
}

func (g ImageGrid) numTokens() int { return g.T * g.H * g.W }

// Forward runs the vision tower over a batch of images whose patches
// have already been concatenated into a single [totalPatches, patchDim]
// matrix (spec.md §4.4.1/§4.4.2). It returns the merged feature
// sequence, one row per merged spatial group across all images, in
// image order.
func Forward(patches *tensor.Tensor, grids []ImageGrid, w *Weights) (*tensor.Tensor, error) {
	if len(patches.Shape) != 2 {
		return nil, fmt.Errorf("vision: Forward expects [N,patchDim] patches, got shape %v", patches.Shape)
	}
	total := 0
	for _, g := range grids {
		total += g.numTokens()
	}
	if total != patches.Shape[0] {
		return nil, fmt.Errorf("vision: grids describe %d tokens, patches has %d rows", total, patches.Shape[0])
	}

	hidden, err := w.PatchEmbed.forward(patches)
	if err != nil {
		return nil, fmt.Errorf("vision: patch embed: %w", err)
	}

	cos, sin, err := buildRotary(grids, w.Config)
	if err != nil {
		return nil, fmt.Errorf("vision: rotary: %w", err)
	}

	windows := windowSizes(grids)

	x := hidden
	for li, blk := range w.Blocks {
		x, err = runBlock(x, cos, sin, windows, blk, w.Config)
		if err != nil {
			return nil, fmt.Errorf("vision: block %d: %w", li, err)
		}
	}

	x, err = tensor.RMSNorm(x, w.PostNormWeight, w.Config.Eps)
	if err != nil {
		return nil, fmt.Errorf("vision: post norm: %w", err)
	}

	return mergePerImage(x, grids, w)
}

func windowSizes(grids []ImageGrid) []int {
	var sizes []int
	for _, g := range grids {
		for t := 0; t < g.T; t++ {
			sizes = append(sizes, g.H*g.W)
		}
	}
	return sizes
}

// buildRotary builds per-token cos/sin tables shaped [N,headDim],
// following the 2-way (h,w) split-and-duplicate convention: half the
// rotary channels encode the row position, half encode the column
// position, then the full vector is repeated across both RotateHalf
// halves.
func buildRotary(grids []ImageGrid, cfg Config) (*tensor.Tensor, *tensor.Tensor, error) {
	headDim := cfg.HiddenSize / cfg.NumHeads
	if headDim%4 != 0 {
		return nil, nil, fmt.Errorf("vision: head dim %d must be divisible by 4 for 2D rotary", headDim)
	}
	rotaryDim := headDim / 2
	pairs := rotaryDim / 2
	theta := cfg.RopeTheta
	if theta == 0 {
		theta = 10000
	}
	invFreq := make([]float64, pairs)
	for i := range invFreq {
		invFreq[i] = 1 / math.Pow(theta, float64(2*i)/float64(rotaryDim))
	}

	total := 0
	for _, g := range grids {
		total += g.numTokens()
	}
	cos := tensor.New(total, headDim)
	sin := tensor.New(total, headDim)

	row := 0
	for _, g := range grids {
		for t := 0; t < g.T; t++ {
			for h := 0; h < g.H; h++ {
				for wIdx := 0; wIdx < g.W; wIdx++ {
					base := row * headDim
					for i := 0; i < pairs; i++ {
						fh := float64(h) * invFreq[i]
						fw := float64(wIdx) * invFreq[i]
						ch, sh := math.Cos(fh), math.Sin(fh)
						cw, sw := math.Cos(fw), math.Sin(fw)
						// first quarter: h, second quarter: w, repeated
						// for the second RotateHalf half.
						cos.Data[base+i] = float32(ch)
						sin.Data[base+i] = float32(sh)
						cos.Data[base+pairs+i] = float32(cw)
						sin.Data[base+pairs+i] = float32(sw)
						cos.Data[base+rotaryDim+i] = float32(ch)
						sin.Data[base+rotaryDim+i] = float32(sh)
						cos.Data[base+rotaryDim+pairs+i] = float32(cw)
						sin.Data[base+rotaryDim+pairs+i] = float32(sw)
					}
					row++
				}
			}
		}
	}
	return cos, sin, nil
}

func runBlock(x, cos, sin *tensor.Tensor, windows []int, blk BlockWeights, cfg Config) (*tensor.Tensor, error) {
	residual := x
	normed, err := tensor.RMSNorm(x, blk.Norm1Weight, cfg.Eps)
	if err != nil {
		return nil, err
	}

	attnOut, err := windowedSelfAttention(normed, cos, sin, windows, blk, cfg)
	if err != nil {
		return nil, err
	}
	x, err = tensor.Add(residual, attnOut)
	if err != nil {
		return nil, err
	}

	residual = x
	normed, err = tensor.RMSNorm(x, blk.Norm2Weight, cfg.Eps)
	if err != nil {
		return nil, err
	}
	mlpOut, err := gatedMLP(normed, blk.Gate, blk.Up, blk.Down)
	if err != nil {
		return nil, err
	}
	return tensor.Add(residual, mlpOut)
}

func gatedMLP(x *tensor.Tensor, gate, up, down Linear) (*tensor.Tensor, error) {
	g, err := gate.forward(x)
	if err != nil {
		return nil, err
	}
	u, err := up.forward(x)
	if err != nil {
		return nil, err
	}
	act := tensor.SiLU(g)
	prod, err := tensor.Mul(act, u)
	if err != nil {
		return nil, err
	}
	return down.forward(prod)
}

func windowedSelfAttention(x, cos, sin *tensor.Tensor, windows []int, blk BlockWeights, cfg Config) (*tensor.Tensor, error) {
	n := x.Shape[0]
	headDim := cfg.HiddenSize / cfg.NumHeads

	q, err := blk.QProj.forward(x)
	if err != nil {
		return nil, err
	}
	k, err := blk.KProj.forward(x)
	if err != nil {
		return nil, err
	}
	v, err := blk.VProj.forward(x)
	if err != nil {
		return nil, err
	}

	qRot, err := applyRotaryPerHead(q, cos, sin, cfg.NumHeads, headDim)
	if err != nil {
		return nil, err
	}
	kRot, err := applyRotaryPerHead(k, cos, sin, cfg.NumHeads, headDim)
	if err != nil {
		return nil, err
	}

	out := tensor.New(n, cfg.HiddenSize)
	start := 0
	for _, size := range windows {
		if size == 0 {
			continue
		}
		end := start + size
		if end > n {
			return nil, fmt.Errorf("vision: window bounds exceed sequence length")
		}
		qw, err := sliceHeadsAsBatch(qRot, start, end, cfg.NumHeads, headDim)
		if err != nil {
			return nil, err
		}
		kw, err := sliceHeadsAsBatch(kRot, start, end, cfg.NumHeads, headDim)
		if err != nil {
			return nil, err
		}
		vw, err := sliceHeadsAsBatch(v, start, end, cfg.NumHeads, headDim)
		if err != nil {
			return nil, err
		}
		attnOut, err := tensor.Attention(qw, kw, vw, nil)
		if err != nil {
			return nil, err
		}
		mergeHeadsInto(out, attnOut, start, cfg.NumHeads, headDim)
		start = end
	}
	if start != n {
		return nil, fmt.Errorf("vision: windows cover %d tokens, expected %d", start, n)
	}
	return blk.OutProj.forward(out)
}

// applyRotaryPerHead splits [N, hidden] into per-head slices, applies
// RotateHalf with the shared cos/sin table per token, and reassembles.
func applyRotaryPerHead(x, cos, sin *tensor.Tensor, numHeads, headDim int) (*tensor.Tensor, error) {
	n := x.Shape[0]
	out := tensor.New(n, numHeads*headDim)
	headTensor := tensor.New(n, headDim)
	for h := 0; h < numHeads; h++ {
		for i := 0; i < n; i++ {
			copy(headTensor.Data[i*headDim:(i+1)*headDim], x.Data[i*numHeads*headDim+h*headDim:i*numHeads*headDim+(h+1)*headDim])
		}
		rotated, err := tensor.RotateHalf(headTensor, cos, sin)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			copy(out.Data[i*numHeads*headDim+h*headDim:i*numHeads*headDim+(h+1)*headDim], rotated.Data[i*headDim:(i+1)*headDim])
		}
	}
	return out, nil
}

// sliceHeadsAsBatch carves rows [start,end) of a [N,hidden] tensor into
// a [1,numHeads,L,headDim] tensor for tensor.Attention.
func sliceHeadsAsBatch(x *tensor.Tensor, start, end, numHeads, headDim int) (*tensor.Tensor, error) {
	l := end - start
	out := tensor.New(1, numHeads, l, headDim)
	hidden := numHeads * headDim
	for i := 0; i < l; i++ {
		srcRow := x.Data[(start+i)*hidden : (start+i+1)*hidden]
		for h := 0; h < numHeads; h++ {
			dst := ((h*l)+i)*headDim
			copy(out.Data[dst:dst+headDim], srcRow[h*headDim:(h+1)*headDim])
		}
	}
	return out, nil
}

func mergeHeadsInto(dst *tensor.Tensor, attnOut *tensor.Tensor, start, numHeads, headDim int) {
	l := attnOut.Shape[2]
	hidden := numHeads * headDim
	for i := 0; i < l; i++ {
		dstRow := dst.Data[(start+i)*hidden : (start+i+1)*hidden]
		for h := 0; h < numHeads; h++ {
			src := ((h*l)+i)*headDim
			copy(dstRow[h*headDim:(h+1)*headDim], attnOut.Data[src:src+headDim])
		}
	}
}

// mergePerImage applies the spatial 2x downsample conv and the patch
// merger independently per image (each image's temporal frames share
// spatial layout but the conv operates per frame), concatenating the
// results across images in order.
func mergePerImage(x *tensor.Tensor, grids []ImageGrid, w *Weights) (*tensor.Tensor, error) {
	merge := w.Config.SpatialMerge
	var outRows []*tensor.Tensor
	offset := 0
	for _, g := range grids {
		for t := 0; t < g.T; t++ {
			frame := tensor.New(1, w.Config.HiddenSize, g.H, g.W)
			for hh := 0; hh < g.H; hh++ {
				for ww := 0; ww < g.W; ww++ {
					row := x.Data[(offset+hh*g.W+ww)*w.Config.HiddenSize : (offset+hh*g.W+ww+1)*w.Config.HiddenSize]
					for c := 0; c < w.Config.HiddenSize; c++ {
						frame.Data[((c*g.H)+hh)*g.W+ww] = row[c]
					}
				}
			}
			offset += g.H * g.W

			down, err := tensor.Conv2D(frame, w.Downsample, w.DownsampleBias, tensor.ConvParams{StrideH: merge, StrideW: merge, Groups: 1})
			if err != nil {
				return nil, fmt.Errorf("vision: downsample conv: %w", err)
			}
			_, c, dh, dw := down.Shape[0], down.Shape[1], down.Shape[2], down.Shape[3]
			flat := tensor.New(dh*dw, c)
			for hh := 0; hh < dh; hh++ {
				for ww := 0; ww < dw; ww++ {
					for ci := 0; ci < c; ci++ {
						flat.Data[(hh*dw+ww)*c+ci] = down.Data[((ci*dh)+hh)*dw+ww]
					}
				}
			}
			merged, err := applyMerger(flat, w.Merger, w.Config)
			if err != nil {
				return nil, fmt.Errorf("vision: merger: %w", err)
			}
			outRows = append(outRows, merged)
		}
	}
	if len(outRows) == 0 {
		return tensor.New(0, w.Config.OutHiddenSize), nil
	}
	return tensor.Concat(0, outRows...)
}

func applyMerger(x *tensor.Tensor, m MergerWeights, cfg Config) (*tensor.Tensor, error) {
	proj, err := m.Proj.forward(x)
	if err != nil {
		return nil, err
	}
	normed, err := tensor.LayerNorm(proj, m.LNGamma, m.LNBeta, cfg.Eps)
	if err != nil {
		return nil, err
	}
	act := tensor.GELU(normed)
	gate, err := m.Gate.forward(act)
	if err != nil {
		return nil, err
	}
	up, err := m.Up.forward(act)
	if err != nil {
		return nil, err
	}
	prod, err := tensor.Mul(tensor.SiLU(gate), up)
	if err != nil {
		return nil, err
	}
	return m.Down.forward(prod)
}
