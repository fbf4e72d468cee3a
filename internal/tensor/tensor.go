// Package tensor implements the small set of numeric primitives the
// layout detector and recognizer need (spec.md §2 "Tensor primitives"):
// convolution, normalization, attention, rotary embedding, padding, and
// interpolation, all operating over flat contiguous buffers with
// linear index arithmetic rather than per-pixel object graphs (see
// spec.md §9 Design Note "Arena + index").
//
// No numeric backend library exists anywhere in the retrieval pack
// (see DESIGN.md); this package is intentionally standard-library-only.
package tensor

import "fmt"

// Tensor is a flat float32 buffer with an explicit shape. Values are
// stored in row-major (C) order.
type Tensor struct {
	Data  []float32
	Shape []int
}

// New allocates a zeroed tensor of the given shape.
func New(shape ...int) *Tensor {
	n := numel(shape)
	return &Tensor{Data: make([]float32, n), Shape: append([]int(nil), shape...)}
}

// FromData wraps an existing buffer; len(data) must equal numel(shape).
func FromData(data []float32, shape ...int) (*Tensor, error) {
	if len(data) != numel(shape) {
		return nil, fmt.Errorf("tensor: data length %d does not match shape %v (%d elements)", len(data), shape, numel(shape))
	}
	return &Tensor{Data: data, Shape: append([]int(nil), shape...)}, nil
}

func numel(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// Numel returns the total element count.
func (t *Tensor) Numel() int { return len(t.Data) }

// Strides returns row-major strides for t's shape.
func (t *Tensor) Strides() []int {
	s := make([]int, len(t.Shape))
	acc := 1
	for i := len(t.Shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= t.Shape[i]
	}
	return s
}

// Reshape returns a view over the same backing array with a new shape.
// The new shape must have the same element count.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if numel(shape) != len(t.Data) {
		return nil, fmt.Errorf("tensor: cannot reshape %v into %v", t.Shape, shape)
	}
	return &Tensor{Data: t.Data, Shape: append([]int(nil), shape...)}, nil
}

// Clone deep-copies the tensor.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{Data: data, Shape: append([]int(nil), t.Shape...)}
}

// ---- elementwise ----

func apply(t *Tensor, f func(float32) float32) *Tensor {
	out := New(t.Shape...)
	for i, v := range t.Data {
		out.Data[i] = f(v)
	}
	return out
}

func Sigmoid(t *Tensor) *Tensor {
	return apply(t, func(v float32) float32 { return sigmoidScalar(v) })
}

func sigmoidScalar(v float32) float32 {
	return float32(1 / (1 + expNeg(v)))
}

func expNeg(v float32) float64 {
	return float64ExpNeg(v)
}

func SiLU(t *Tensor) *Tensor {
	return apply(t, func(v float32) float32 { return v * sigmoidScalar(v) })
}

func GELU(t *Tensor) *Tensor {
	return apply(t, geluScalar)
}

func ReLU(t *Tensor) *Tensor {
	return apply(t, func(v float32) float32 {
		if v < 0 {
			return 0
		}
		return v
	})
}

// Add returns a+b elementwise; shapes must match exactly.
func Add(a, b *Tensor) (*Tensor, error) {
	if len(a.Data) != len(b.Data) {
		return nil, fmt.Errorf("tensor: Add shape mismatch %v vs %v", a.Shape, b.Shape)
	}
	out := New(a.Shape...)
	for i := range a.Data {
		out.Data[i] = a.Data[i] + b.Data[i]
	}
	return out, nil
}

// Mul returns a*b elementwise; shapes must match exactly.
func Mul(a, b *Tensor) (*Tensor, error) {
	if len(a.Data) != len(b.Data) {
		return nil, fmt.Errorf("tensor: Mul shape mismatch %v vs %v", a.Shape, b.Shape)
	}
	out := New(a.Shape...)
	for i := range a.Data {
		out.Data[i] = a.Data[i] * b.Data[i]
	}
	return out, nil
}

// Concat concatenates tensors with identical shape except along axis.
func Concat(axis int, ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("tensor: Concat requires at least one tensor")
	}
	shape := append([]int(nil), ts[0].Shape...)
	total := shape[axis]
	for _, t := range ts[1:] {
		if len(t.Shape) != len(shape) {
			return nil, fmt.Errorf("tensor: Concat rank mismatch")
		}
		for i, s := range t.Shape {
			if i == axis {
				continue
			}
			if s != shape[i] {
				return nil, fmt.Errorf("tensor: Concat shape mismatch at axis %d", i)
			}
		}
		total += t.Shape[axis]
	}
	shape[axis] = total
	out := New(shape...)
	outer := 1
	for i := 0; i < axis; i++ {
		outer *= shape[i]
	}
	innerPer := make([]int, len(ts))
	inner := 1
	for i := axis + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	for i, t := range ts {
		innerPer[i] = t.Shape[axis] * inner
	}
	outStride := total * inner
	writeOff := 0
	for ti, t := range ts {
		tStride := innerPer[ti]
		for o := 0; o < outer; o++ {
			src := t.Data[o*tStride : o*tStride+tStride]
			dst := out.Data[o*outStride+writeOff : o*outStride+writeOff+tStride]
			copy(dst, src)
		}
		writeOff += tStride
	}
	return out, nil
}
