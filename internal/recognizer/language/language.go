// Package language implements the recognizer's causal language model:
// a sandwich-norm grouped-query-attention decoder stack with
// multi-axis rotary position embedding (M-RoPE), a block-growing
// per-layer KV cache, chunked prefill, and sampling (spec.md §4.4.3,
// §4.4.5, §4.4.6).
package language

import "github.com/tansanrao/glm-ocr-swift/internal/tensor"

// Config holds the language model's architecture hyperparameters.
type Config struct {
	HiddenSize    int
	NumHeads      int
	NumKVHeads    int
	NumLayers     int
	VocabSize     int
	Eps           float32
	RopeTheta     float64
	MRopeSections [3]int // (t,h,w) split of the half rotary dimension
	MergeSize     int
	ImageTokenID      int
	VideoTokenID      int
	ImageStartTokenID int
	CacheBlockSize    int
}

// Linear bundles a weight matrix with its bias.
type Linear struct {
	Weight *tensor.Tensor
	Bias   []float32
}

func (l Linear) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Linear(x, l.Weight, l.Bias)
}

// BlockWeights is one GLM-style sandwich-norm decoder layer:
// RMSNorm -> attention -> RMSNorm -> residual -> RMSNorm -> gated-MLP
// -> RMSNorm -> residual (spec.md §4.4.3).
type BlockWeights struct {
	InputNorm    []float32
	QProj        Linear
	KProj        Linear
	VProj        Linear
	OProj        Linear
	PostAttnNorm []float32
	PreMLPNorm   []float32
	GateUpProj   Linear // output width 2*mlpHiddenSize, split in half
	DownProj     Linear
	PostMLPNorm  []float32
}

// Weights is the full language model parameter set.
type Weights struct {
	Config        Config
	EmbedTokens   *tensor.Tensor // [vocab, hidden]
	Blocks        []BlockWeights
	FinalNorm     []float32
	LMHead        Linear
}

func headDim(cfg Config) int { return cfg.HiddenSize / cfg.NumHeads }
