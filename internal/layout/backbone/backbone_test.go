package backbone

import (
	"testing"

	"github.com/tansanrao/glm-ocr-swift/internal/tensor"
)

func zeroConv(cout, cinPerGroup, k, stride, pad, groups int) ConvBN {
	return ConvBN{
		Weight: tensor.New(cout, cinPerGroup, k, k),
		Bias:   make([]float32, cout),
		Stride: stride,
		Pad:    pad,
		Groups: groups,
	}
}

func tinyWeights() *Weights {
	w := &Weights{
		Stem: [3]ConvBN{
			zeroConv(4, 3, 3, 2, 1, 1),
			zeroConv(4, 4, 3, 1, 1, 1),
			zeroConv(4, 4, 3, 2, 1, 1),
		},
	}
	for i := 0; i < 4; i++ {
		block := HGBlockWeights{
			Layers: []LayerWeights{
				{Main: zeroConv(4, 4, 3, 1, 1, 1)},
			},
			Agg1:     zeroConv(4, 8, 1, 1, 0, 1), // concat(4+4)=8 -> 4
			Agg2:     zeroConv(4, 4, 1, 1, 0, 1),
			Residual: false,
		}
		w.Stages[i] = StageWeights{Blocks: []HGBlockWeights{block}}
	}
	return w
}

func TestForwardShapes(t *testing.T) {
	x := tensor.New(1, 3, 16, 16)
	out, err := Forward(x, tinyWeights())
	if err != nil {
		t.Fatalf("Forward() error: %v", err)
	}
	if out.X4Feature != out.StageFeatures[0] {
		t.Fatalf("X4Feature should alias the first stage output")
	}
	for i, f := range out.StageFeatures {
		if f == nil {
			t.Fatalf("stage %d feature is nil", i)
		}
		if f.Shape[1] != 4 {
			t.Fatalf("stage %d unexpected channel count: %v", i, f.Shape)
		}
	}
}

func TestForwardRejectsWrongInputShape(t *testing.T) {
	x := tensor.New(1, 4, 8, 8)
	if _, err := Forward(x, tinyWeights()); err == nil {
		t.Fatalf("expected error for wrong channel count")
	}
}
