package glmocr

import (
	"fmt"

	"github.com/tansanrao/glm-ocr-swift/internal/recognizer"
	"github.com/tansanrao/glm-ocr-swift/internal/safetensors"
)

// LoadRecognizerWeights reads dir with loader, applies the §4.5
// checkpoint key rewrite, and assembles recognizer.Weights. This is
// the one weight-assembly path spec.md actually specifies end to end
// (source checkpoints use heterogeneous naming that must be rewritten
// before loading); the layout model's checkpoint key schema is left
// unspecified (spec.md §1 Out-of-scope names safetensors parsing
// itself, and no further schema is given for the layout model), so no
// equivalent convenience exists for it — callers construct
// layout.Weights directly or via their own loader.
func LoadRecognizerWeights(loader safetensors.Loader, dir string, cfg recognizer.Config) (*recognizer.Weights, error) {
	raw, err := loader.Load(dir)
	if err != nil {
		return nil, wrapErr(ModelDeliveryFailed, "glmocr.LoadRecognizerWeights", fmt.Errorf("load checkpoint: %w", err))
	}
	sanitized := recognizer.SanitizeCheckpoint(raw)
	w, err := recognizer.LoadWeights(sanitized, cfg)
	if err != nil {
		return nil, wrapErr(InvalidConfiguration, "glmocr.LoadRecognizerWeights", fmt.Errorf("assemble weights: %w", err))
	}
	return w, nil
}
