package safetensors

import (
	"fmt"

	"github.com/tansanrao/glm-ocr-swift/internal/tensor"
)

// Fake is an in-memory Loader for tests: it serves a fixed tensor map
// regardless of the requested directory, and can simulate a load
// failure.
type Fake struct {
	Tensors map[string]*tensor.Tensor
	Err     error
}

func (f *Fake) Load(dir string) (map[string]*tensor.Tensor, error) {
	if f.Err != nil {
		return nil, fmt.Errorf("safetensors: fake load %q: %w", dir, f.Err)
	}
	return f.Tensors, nil
}
