// Package safetensors declares the thin, opaque checkpoint-loading
// contract the layout detector and recognizer depend on (spec.md §1
// Out-of-scope: "safetensors file parsing ... assumed to yield tensor
// maps"). No file-format parser lives here.
package safetensors

import "github.com/tansanrao/glm-ocr-swift/internal/tensor"

// Loader reads a directory of checkpoint shards and returns every
// tensor keyed by its checkpoint name, before weight-name
// sanitization (spec.md §4.5) is applied by the caller.
type Loader interface {
	Load(dir string) (map[string]*tensor.Tensor, error)
}
