package language

import (
	"fmt"

	"github.com/tansanrao/glm-ocr-swift/internal/tensor"
)

func runBlock(x, cos, sin *tensor.Tensor, lc *LayerCache, blk BlockWeights, cfg Config) (*tensor.Tensor, error) {
	residual := x
	h, err := tensor.RMSNorm(x, blk.InputNorm, cfg.Eps)
	if err != nil {
		return nil, err
	}
	attnOut, err := groupedQueryAttention(h, cos, sin, lc, blk, cfg)
	if err != nil {
		return nil, err
	}
	attnOut, err = tensor.RMSNorm(attnOut, blk.PostAttnNorm, cfg.Eps)
	if err != nil {
		return nil, err
	}
	x, err = tensor.Add(residual, attnOut)
	if err != nil {
		return nil, err
	}

	residual = x
	h, err = tensor.RMSNorm(x, blk.PreMLPNorm, cfg.Eps)
	if err != nil {
		return nil, err
	}
	mlpOut, err := gatedMLP(h, blk)
	if err != nil {
		return nil, err
	}
	mlpOut, err = tensor.RMSNorm(mlpOut, blk.PostMLPNorm, cfg.Eps)
	if err != nil {
		return nil, err
	}
	return tensor.Add(residual, mlpOut)
}

// gatedMLP splits the combined gate_up_proj output in half (spec.md
// §4.4.3) rather than using separate gate/up projections.
func gatedMLP(x *tensor.Tensor, blk BlockWeights) (*tensor.Tensor, error) {
	gateUp, err := blk.GateUpProj.forward(x)
	if err != nil {
		return nil, err
	}
	width := gateUp.Shape[1]
	if width%2 != 0 {
		return nil, fmt.Errorf("language: gate_up_proj output width must be even, got %d", width)
	}
	half := width / 2
	l := gateUp.Shape[0]
	gate := tensor.New(l, half)
	up := tensor.New(l, half)
	for i := 0; i < l; i++ {
		copy(gate.Data[i*half:(i+1)*half], gateUp.Data[i*width:i*width+half])
		copy(up.Data[i*half:(i+1)*half], gateUp.Data[i*width+half:(i+1)*width])
	}
	act := tensor.SiLU(gate)
	prod, err := tensor.Mul(act, up)
	if err != nil {
		return nil, err
	}
	return blk.DownProj.forward(prod)
}
