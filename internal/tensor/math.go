package tensor

import (
	"fmt"
	"math"
)

func float64ExpNeg(v float32) float64 {
	return math.Exp(-float64(v))
}

// geluScalar uses the exact erf-based GELU, matching the definition
// used by the recognizer's gated MLP activation.
func geluScalar(v float32) float32 {
	x := float64(v)
	return float32(0.5 * x * (1 + math.Erf(x/math.Sqrt2)))
}

// Softmax applies softmax along the last axis.
func Softmax(t *Tensor) *Tensor {
	out := New(t.Shape...)
	last := t.Shape[len(t.Shape)-1]
	rows := len(t.Data) / last
	for r := 0; r < rows; r++ {
		row := t.Data[r*last : (r+1)*last]
		outRow := out.Data[r*last : (r+1)*last]
		maxV := row[0]
		for _, v := range row[1:] {
			if v > maxV {
				maxV = v
			}
		}
		sum := float32(0)
		for i, v := range row {
			e := float32(math.Exp(float64(v - maxV)))
			outRow[i] = e
			sum += e
		}
		if sum == 0 {
			continue
		}
		for i := range outRow {
			outRow[i] /= sum
		}
	}
	return out
}

// LayerNorm normalizes the last axis and applies an affine transform.
func LayerNorm(t *Tensor, gamma, beta []float32, eps float32) (*Tensor, error) {
	last := t.Shape[len(t.Shape)-1]
	if len(gamma) != last || len(beta) != last {
		return nil, fmt.Errorf("tensor: LayerNorm gamma/beta length must equal last dim %d", last)
	}
	out := New(t.Shape...)
	rows := len(t.Data) / last
	for r := 0; r < rows; r++ {
		row := t.Data[r*last : (r+1)*last]
		outRow := out.Data[r*last : (r+1)*last]
		var mean float32
		for _, v := range row {
			mean += v
		}
		mean /= float32(last)
		var variance float32
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float32(last)
		invStd := float32(1 / math.Sqrt(float64(variance)+float64(eps)))
		for i, v := range row {
			outRow[i] = (v-mean)*invStd*gamma[i] + beta[i]
		}
	}
	return out, nil
}

// RMSNorm normalizes the last axis by its RMS value (no mean
// subtraction) and scales by weight. Used by the recognizer's vision
// tower and language model blocks.
func RMSNorm(t *Tensor, weight []float32, eps float32) (*Tensor, error) {
	last := t.Shape[len(t.Shape)-1]
	if len(weight) != last {
		return nil, fmt.Errorf("tensor: RMSNorm weight length must equal last dim %d", last)
	}
	out := New(t.Shape...)
	rows := len(t.Data) / last
	for r := 0; r < rows; r++ {
		row := t.Data[r*last : (r+1)*last]
		outRow := out.Data[r*last : (r+1)*last]
		var ss float32
		for _, v := range row {
			ss += v * v
		}
		ss /= float32(last)
		invRMS := float32(1 / math.Sqrt(float64(ss)+float64(eps)))
		for i, v := range row {
			outRow[i] = v * invRMS * weight[i]
		}
	}
	return out, nil
}
