// Package backbone implements the layout detector's four-stage
// HGNet-style feature extractor (spec.md §4.3.2).
//
// Layer state is immutable flat structs holding typed weight
// references; forward passes are free functions over those structs
// rather than an object graph of block/stage types (spec.md §9 Design
// Note "Deep inheritance in source models").
package backbone

import (
	"fmt"

	"github.com/tansanrao/glm-ocr-swift/internal/tensor"
)

// StageConfig is one row of the fixed four-stage table.
type StageConfig struct {
	InCh, MidCh, OutCh int
	NumBlocks          int
	Downsample         bool
	LightBlock         bool
	Kernel             int
	NumLayers          int
}

// StageConfigs is the fixed table from spec.md §4.3.2.
var StageConfigs = [4]StageConfig{
	{InCh: 48, MidCh: 48, OutCh: 128, NumBlocks: 1, Downsample: false, LightBlock: false, Kernel: 3, NumLayers: 6},
	{InCh: 128, MidCh: 96, OutCh: 512, NumBlocks: 1, Downsample: true, LightBlock: false, Kernel: 3, NumLayers: 6},
	{InCh: 512, MidCh: 192, OutCh: 1024, NumBlocks: 3, Downsample: true, LightBlock: true, Kernel: 5, NumLayers: 6},
	{InCh: 1024, MidCh: 384, OutCh: 2048, NumBlocks: 1, Downsample: true, LightBlock: true, Kernel: 5, NumLayers: 6},
}

// ConvBN is a convolution with batch-norm folded into the bias at
// export time, the usual inference-time fusion.
type ConvBN struct {
	Weight *tensor.Tensor // [Cout, Cin/groups, Kh, Kw]
	Bias   []float32
	Stride int
	Pad    int
	Groups int
}

func (c *ConvBN) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := tensor.Conv2D(x, c.Weight, c.Bias, tensor.ConvParams{
		StrideH: c.Stride, StrideW: c.Stride, PadH: c.Pad, PadW: c.Pad, Groups: c.Groups,
	})
	if err != nil {
		return nil, err
	}
	return tensor.SiLU(y), nil
}

// LayerWeights is one aggregation-layer inside an HGBlock: a single
// k×k conv for non-light blocks, or a 1×1 point-wise conv followed by
// a depthwise k×k conv for light blocks (spec.md §4.3.2).
type LayerWeights struct {
	PointWise *ConvBN // nil unless LightBlock
	Main      ConvBN
}

func (l *LayerWeights) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	cur := x
	if l.PointWise != nil {
		var err error
		cur, err = l.PointWise.forward(cur)
		if err != nil {
			return nil, err
		}
	}
	return l.Main.forward(cur)
}

// HGBlockWeights is one HGBlock: NumLayers sequential convs whose
// outputs are concatenated with the block input along the channel
// axis, then squeezed through two 1×1 aggregation convs.
type HGBlockWeights struct {
	Layers   []LayerWeights
	Agg1     ConvBN
	Agg2     ConvBN
	Residual bool
}

func (b *HGBlockWeights) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	outputs := []*tensor.Tensor{x}
	cur := x
	for i := range b.Layers {
		var err error
		cur, err = b.Layers[i].forward(cur)
		if err != nil {
			return nil, fmt.Errorf("backbone: block layer %d: %w", i, err)
		}
		outputs = append(outputs, cur)
	}
	concat, err := tensor.Concat(1, outputs...)
	if err != nil {
		return nil, fmt.Errorf("backbone: block concat: %w", err)
	}
	agg1, err := b.Agg1.forward(concat)
	if err != nil {
		return nil, fmt.Errorf("backbone: aggregation conv 1: %w", err)
	}
	agg2, err := b.Agg2.forward(agg1)
	if err != nil {
		return nil, fmt.Errorf("backbone: aggregation conv 2: %w", err)
	}
	if b.Residual {
		return tensor.Add(agg2, x)
	}
	return agg2, nil
}

// StageWeights is one of the four backbone stages.
type StageWeights struct {
	Downsample *ConvBN // nil unless StageConfig.Downsample
	Blocks     []HGBlockWeights
}

func (s *StageWeights) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	cur := x
	if s.Downsample != nil {
		var err error
		cur, err = s.Downsample.forward(cur)
		if err != nil {
			return nil, fmt.Errorf("backbone: stage downsample: %w", err)
		}
	}
	for i := range s.Blocks {
		var err error
		cur, err = s.Blocks[i].forward(cur)
		if err != nil {
			return nil, fmt.Errorf("backbone: stage block %d: %w", i, err)
		}
	}
	return cur, nil
}

// Weights holds the stem convs and the four stages.
type Weights struct {
	Stem   [3]ConvBN
	Stages [4]StageWeights
}

// Output carries the backbone's feature maps forward to the encoder.
type Output struct {
	X4Feature     *tensor.Tensor // first stage output
	StageFeatures [4]*tensor.Tensor
}

// Forward runs the stem and the four stages over a [1,3,800,800]
// input tensor (spec.md §4.3.1's fixed input shape).
func Forward(x *tensor.Tensor, w *Weights) (*Output, error) {
	if len(x.Shape) != 4 || x.Shape[0] != 1 || x.Shape[1] != 3 {
		return nil, fmt.Errorf("backbone: expected input shape [1,3,H,W], got %v", x.Shape)
	}
	cur := x
	for i := range w.Stem {
		var err error
		cur, err = w.Stem[i].forward(cur)
		if err != nil {
			return nil, fmt.Errorf("backbone: stem conv %d: %w", i, err)
		}
	}
	out := &Output{}
	for i := range w.Stages {
		var err error
		cur, err = w.Stages[i].forward(cur)
		if err != nil {
			return nil, fmt.Errorf("backbone: stage %d: %w", i, err)
		}
		out.StageFeatures[i] = cur
	}
	out.X4Feature = out.StageFeatures[0]
	return out, nil
}
