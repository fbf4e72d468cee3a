package tensor

import (
	"fmt"
	"math"
)

// Attention computes scaled dot-product attention.
// q: [B,H,Lq,D], k,v: [B,H,Lk,D]. mask, if non-nil, is [Lq,Lk] additive
// (use a large negative sentinel to disallow a position, 0 to allow).
func Attention(q, k, v *Tensor, mask []float32) (*Tensor, error) {
	if len(q.Shape) != 4 || len(k.Shape) != 4 || len(v.Shape) != 4 {
		return nil, fmt.Errorf("tensor: Attention expects rank-4 q/k/v")
	}
	B, H, Lq, D := q.Shape[0], q.Shape[1], q.Shape[2], q.Shape[3]
	Bk, Hk, Lk, Dk := k.Shape[0], k.Shape[1], k.Shape[2], k.Shape[3]
	if B != Bk || H != Hk || D != Dk {
		return nil, fmt.Errorf("tensor: Attention q/k shape mismatch %v vs %v", q.Shape, k.Shape)
	}
	if v.Shape[2] != Lk {
		return nil, fmt.Errorf("tensor: Attention k/v length mismatch %d vs %d", Lk, v.Shape[2])
	}
	if mask != nil && len(mask) != Lq*Lk {
		return nil, fmt.Errorf("tensor: Attention mask must be Lq*Lk=%d, got %d", Lq*Lk, len(mask))
	}
	scale := float32(1 / math.Sqrt(float64(D)))
	out := New(B, H, Lq, D)
	scores := make([]float32, Lk)
	for b := 0; b < B; b++ {
		for h := 0; h < H; h++ {
			qBase := ((b*H+h)*Lq) * D
			kBase := ((b*H+h)*Lk) * D
			vBase := kBase
			oBase := qBase
			for i := 0; i < Lq; i++ {
				qRow := q.Data[qBase+i*D : qBase+i*D+D]
				maxScore := float32(math.Inf(-1))
				for j := 0; j < Lk; j++ {
					kRow := k.Data[kBase+j*D : kBase+j*D+D]
					var s float32
					for d := 0; d < D; d++ {
						s += qRow[d] * kRow[d]
					}
					s *= scale
					if mask != nil {
						s += mask[i*Lk+j]
					}
					scores[j] = s
					if s > maxScore {
						maxScore = s
					}
				}
				var sum float32
				for j := 0; j < Lk; j++ {
					e := float32(math.Exp(float64(scores[j] - maxScore)))
					scores[j] = e
					sum += e
				}
				outRow := out.Data[oBase+i*D : oBase+i*D+D]
				if sum == 0 {
					continue
				}
				invSum := 1 / sum
				for j := 0; j < Lk; j++ {
					w := scores[j] * invSum
					if w == 0 {
						continue
					}
					vRow := v.Data[vBase+j*D : vBase+j*D+D]
					for d := 0; d < D; d++ {
						outRow[d] += w * vRow[d]
					}
				}
			}
		}
	}
	return out, nil
}

// CausalMask builds an [Lq,Lk] additive mask allowing position i to
// attend to key j iff j <= i+offset (spec.md §4.4.3 attention-mask
// rules for prefill with a nonzero cache offset).
func CausalMask(lq, lk, offset int) []float32 {
	const negInf = float32(-1e30)
	mask := make([]float32, lq*lk)
	for i := 0; i < lq; i++ {
		for j := 0; j < lk; j++ {
			if j > i+offset {
				mask[i*lk+j] = negInf
			}
		}
	}
	return mask
}

// RotateHalf applies the "rotate half" rotary transform in place style,
// returning a new tensor: x shaped [..., D] with cos/sin shaped [..., D]
// (already duplicated across the two halves, per convention).
func RotateHalf(x, cos, sin *Tensor) (*Tensor, error) {
	if len(x.Data) != len(cos.Data) || len(x.Data) != len(sin.Data) {
		return nil, fmt.Errorf("tensor: RotateHalf length mismatch x=%d cos=%d sin=%d", len(x.Data), len(cos.Data), len(sin.Data))
	}
	d := x.Shape[len(x.Shape)-1]
	if d%2 != 0 {
		return nil, fmt.Errorf("tensor: RotateHalf requires an even last dimension, got %d", d)
	}
	half := d / 2
	out := New(x.Shape...)
	rows := len(x.Data) / d
	for r := 0; r < rows; r++ {
		base := r * d
		for i := 0; i < half; i++ {
			x1 := x.Data[base+i]
			x2 := x.Data[base+half+i]
			c1 := cos.Data[base+i]
			s1 := sin.Data[base+i]
			c2 := cos.Data[base+half+i]
			s2 := sin.Data[base+half+i]
			out.Data[base+i] = x1*c1 - x2*s1
			out.Data[base+half+i] = x2*c2 + x1*s2
		}
	}
	return out, nil
}
