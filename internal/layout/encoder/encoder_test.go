package encoder

import (
	"testing"

	"github.com/tansanrao/glm-ocr-swift/internal/tensor"
)

const testDim = 4

func zeroConvBN(cout, cin, k, stride, pad int) ConvBN {
	return ConvBN{Weight: tensor.New(cout, cin, k, k), Bias: make([]float32, cout), Stride: stride, Pad: pad}
}

func zeroRepVGG(dim int) RepVGGBlock {
	return RepVGGBlock{
		Conv3: zeroConvBN(dim, dim, 3, 1, 1),
		Conv1: zeroConvBN(dim, dim, 1, 1, 0),
	}
}

func zeroCSPRep(inCh, outCh int) CSPRepBlock {
	return CSPRepBlock{
		Main: [3]RepVGGBlock{
			{Conv3: zeroConvBN(outCh, inCh, 3, 1, 1), Conv1: zeroConvBN(outCh, inCh, 1, 1, 0)},
			zeroRepVGG(outCh),
			zeroRepVGG(outCh),
		},
		Branch: zeroConvBN(outCh, inCh, 1, 1, 0),
	}
}

func zeroLinear(dout, din int) Linear {
	return Linear{Weight: tensor.New(dout, din), Bias: make([]float32, dout)}
}

func zero1x1(dout, din int) ConvBN1x1 {
	return ConvBN1x1{Weight: tensor.New(dout, din), Bias: make([]float32, dout)}
}

func testWeights() *Weights {
	d := testDim
	w := &Weights{
		InputProj: [3]ConvBN1x1{zero1x1(d, d), zero1x1(d, d), zero1x1(d, d)},
		AIFI: AIFILayer{
			QProj: zero1x1(d, d), KProj: zero1x1(d, d), VProj: zero1x1(d, d), OutProj: zero1x1(d, d),
			FFN1: zeroLinear(d, d), FFN2: zeroLinear(d, d),
			Norm1Gamma: ones(d), Norm1Beta: make([]float32, d),
			Norm2Gamma: ones(d), Norm2Beta: make([]float32, d),
			NumHeads: 2,
		},
		AIFILevel:     2,
		FPNLateral:    [2]ConvBN{zeroConvBN(d, d, 1, 1, 0), zeroConvBN(d, d, 1, 1, 0)},
		FPNFuse:       [2]CSPRepBlock{zeroCSPRep(2*d, d), zeroCSPRep(2*d, d)},
		PANDownsample: [2]ConvBN{zeroConvBN(d, d, 3, 2, 1), zeroConvBN(d, d, 3, 2, 1)},
		PANFuse:       [2]CSPRepBlock{zeroCSPRep(2*d, d), zeroCSPRep(2*d, d)},
		MaskScaleHeads: []ScaleHead{
			{Conv: zeroConvBN(d, d, 3, 1, 1), UpsampleStep: 0},
			{Conv: zeroConvBN(d, d, 3, 1, 1), UpsampleStep: 1},
			{Conv: zeroConvBN(d, d, 3, 1, 1), UpsampleStep: 2},
		},
		MaskOutConv:   zeroConvBN(d, d, 1, 1, 0),
		MaskX4Lateral: zeroConvBN(d, d, 1, 1, 0),
		MaskBaseConv:  zeroConvBN(d, d, 1, 1, 0),
	}
	return w
}

func ones(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func TestForwardProducesLevelsAndMask(t *testing.T) {
	d := testDim
	stage1 := tensor.New(1, d, 8, 8)
	stage2 := tensor.New(1, d, 4, 4)
	stage3 := tensor.New(1, d, 2, 2)
	x4 := tensor.New(1, d, 8, 8)
	stageFeatures := [4]*tensor.Tensor{x4, stage1, stage2, stage3}

	out, err := Forward(stageFeatures, x4, testWeights())
	if err != nil {
		t.Fatalf("Forward() error: %v", err)
	}
	if out.Levels[0] == nil || out.Levels[1] == nil || out.Levels[2] == nil {
		t.Fatalf("expected all three levels populated")
	}
	if out.LevelShapes[0] != [2]int{8, 8} {
		t.Fatalf("unexpected level 0 shape: %v", out.LevelShapes[0])
	}
	if out.MaskFeatures == nil || len(out.MaskFeatures.Shape) != 4 {
		t.Fatalf("expected rank-4 mask feature tensor, got %+v", out.MaskFeatures)
	}
}
