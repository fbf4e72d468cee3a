package tensor

import "fmt"

// Linear applies y = x @ weight^T + bias.
// x:      [N, In]
// weight: [Out, In]
// bias:   [Out] or nil
func Linear(x *Tensor, weight *Tensor, bias []float32) (*Tensor, error) {
	if len(x.Shape) < 1 || len(weight.Shape) != 2 {
		return nil, fmt.Errorf("tensor: Linear expects a >=1-D input and rank-2 weight, got %v and %v", x.Shape, weight.Shape)
	}
	in := x.Shape[len(x.Shape)-1]
	out, inW := weight.Shape[0], weight.Shape[1]
	if in != inW {
		return nil, fmt.Errorf("tensor: Linear input dim %d does not match weight in-dim %d", in, inW)
	}
	if bias != nil && len(bias) != out {
		return nil, fmt.Errorf("tensor: Linear bias length %d must equal out-dim %d", len(bias), out)
	}
	rows := len(x.Data) / in
	outShape := append([]int(nil), x.Shape[:len(x.Shape)-1]...)
	outShape = append(outShape, out)
	result := New(outShape...)
	for r := 0; r < rows; r++ {
		xRow := x.Data[r*in : (r+1)*in]
		outRow := result.Data[r*out : (r+1)*out]
		for o := 0; o < out; o++ {
			wRow := weight.Data[o*in : (o+1)*in]
			sum := float32(0)
			for i, xv := range xRow {
				sum += xv * wRow[i]
			}
			if bias != nil {
				sum += bias[o]
			}
			outRow[o] = sum
		}
	}
	return result, nil
}

// MatMul multiplies batched 2D matrices: a [B, M, K] x b [B, K, N] -> [B, M, N].
// A leading batch dimension of 1 in either operand is broadcast.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 3 || len(b.Shape) != 3 {
		return nil, fmt.Errorf("tensor: MatMul expects rank-3 batched inputs, got %v and %v", a.Shape, b.Shape)
	}
	Ba, M, K := a.Shape[0], a.Shape[1], a.Shape[2]
	Bb, K2, N := b.Shape[0], b.Shape[1], b.Shape[2]
	if K != K2 {
		return nil, fmt.Errorf("tensor: MatMul inner dim mismatch %d vs %d", K, K2)
	}
	B := Ba
	if Bb > B {
		B = Bb
	}
	if Ba != B && Ba != 1 {
		return nil, fmt.Errorf("tensor: MatMul batch mismatch %d vs %d", Ba, B)
	}
	if Bb != B && Bb != 1 {
		return nil, fmt.Errorf("tensor: MatMul batch mismatch %d vs %d", Bb, B)
	}
	out := New(B, M, N)
	for bi := 0; bi < B; bi++ {
		aBatch := a.Data[(bi%Ba)*M*K : (bi%Ba)*M*K+M*K]
		bBatch := b.Data[(bi%Bb)*K*N : (bi%Bb)*K*N+K*N]
		outBatch := out.Data[bi*M*N : bi*M*N+M*N]
		for m := 0; m < M; m++ {
			aRow := aBatch[m*K : (m+1)*K]
			outRow := outBatch[m*N : (m+1)*N]
			for k := 0; k < K; k++ {
				av := aRow[k]
				if av == 0 {
					continue
				}
				bRow := bBatch[k*N : (k+1)*N]
				for n := 0; n < N; n++ {
					outRow[n] += av * bRow[n]
				}
			}
		}
	}
	return out, nil
}

// Scale multiplies every element by s.
func Scale(t *Tensor, s float32) *Tensor {
	out := New(t.Shape...)
	for i, v := range t.Data {
		out.Data[i] = v * s
	}
	return out
}

// Transpose2D swaps the last two axes of a rank-3 [B,M,N] tensor.
func Transpose2D(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 3 {
		return nil, fmt.Errorf("tensor: Transpose2D expects rank-3 tensor, got %v", t.Shape)
	}
	B, M, N := t.Shape[0], t.Shape[1], t.Shape[2]
	out := New(B, N, M)
	for b := 0; b < B; b++ {
		src := t.Data[b*M*N : (b+1)*M*N]
		dst := out.Data[b*M*N : (b+1)*M*N]
		for m := 0; m < M; m++ {
			for n := 0; n < N; n++ {
				dst[n*M+m] = src[m*N+n]
			}
		}
	}
	return out, nil
}
