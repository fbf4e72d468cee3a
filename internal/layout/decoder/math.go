package decoder

import "math"

func expf(v float32) float32 {
	return float32(math.Exp(float64(v)))
}

func sigmoidf(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

func inverseSigmoidf(v float32) float32 {
	p := float64(v)
	if p < anchorEps {
		p = anchorEps
	}
	if p > 1-anchorEps {
		p = 1 - anchorEps
	}
	return float32(math.Log(p / (1 - p)))
}
