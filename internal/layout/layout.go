// Package layout wires the backbone, encoder, decoder, and
// postprocessing stages into the single Detect entry point the
// pipeline orchestrator calls per page (spec.md §4.3).
package layout

import (
	"context"
	"fmt"
	"image"

	"github.com/tansanrao/glm-ocr-swift/internal/config"
	"github.com/tansanrao/glm-ocr-swift/internal/imageprep"
	"github.com/tansanrao/glm-ocr-swift/internal/layout/backbone"
	"github.com/tansanrao/glm-ocr-swift/internal/layout/decoder"
	"github.com/tansanrao/glm-ocr-swift/internal/layout/encoder"
	"github.com/tansanrao/glm-ocr-swift/internal/layout/postprocess"
)

// InputSize is the fixed square input resolution spec.md §4.3.1 requires.
const InputSize = 800

// LabelClassifier is the optional scripting hook consulted during
// label->task mapping; satisfied by internal/scripting's classifier.
type LabelClassifier interface {
	ClassifyTask(label string, score float64) (string, bool)
}

// Weights bundles the three inference stages' parameters.
type Weights struct {
	Backbone *backbone.Weights
	Encoder  *encoder.Weights
	Decoder  *decoder.Weights
	ID2Label map[int]string
}

// Detector runs the full layout detection + postprocessing pipeline
// over a single page.
type Detector struct {
	Weights *Weights
}

// NewDetector constructs a Detector from loaded weights.
func NewDetector(w *Weights) *Detector {
	return &Detector{Weights: w}
}

// Detect runs layout detection on one page image and returns ordered
// detections plus any postprocessing warnings.
func (d *Detector) Detect(ctx context.Context, page image.Image, cfg config.LayoutConfig, classifier LabelClassifier) ([]postprocess.Detection, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if d.Weights == nil {
		return nil, nil, fmt.Errorf("layout: detector has no loaded weights")
	}
	bounds := page.Bounds()
	pageW, pageH := bounds.Dx(), bounds.Dy()

	input, err := imageprep.DecodeToTensor(page, InputSize, InputSize, imageprep.Bicubic, nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("layout: input preprocessing: %w", err)
	}

	backboneOut, err := backbone.Forward(input, d.Weights.Backbone)
	if err != nil {
		return nil, nil, fmt.Errorf("layout: backbone: %w", err)
	}
	encoderOut, err := encoder.Forward(backboneOut.StageFeatures, backboneOut.X4Feature, d.Weights.Encoder)
	if err != nil {
		return nil, nil, fmt.Errorf("layout: encoder: %w", err)
	}
	decoderOut, err := decoder.Forward(encoderOut.Levels, encoderOut.LevelShapes, encoderOut.MaskFeatures, d.Weights.Decoder)
	if err != nil {
		return nil, nil, fmt.Errorf("layout: decoder: %w", err)
	}
	if len(decoderOut.Layers) == 0 {
		return nil, nil, fmt.Errorf("layout: decoder produced no layer outputs")
	}
	final := decoderOut.Layers[len(decoderOut.Layers)-1]

	id2label := cfg.ID2Label
	if id2label == nil {
		id2label = d.Weights.ID2Label
	}

	in := postprocess.Input{
		ClassLogits:     final.ClassLogits.Data,
		ReferencePoints: final.ReferencePoints.Data,
		MaskLogits:      final.MaskLogits.Data,
		Order:           final.Order,
		NumQueries:      final.ClassLogits.Shape[1],
		NumClasses:      final.ClassLogits.Shape[2],
		Mh:              d.Weights.Decoder.MaskHeight,
		Mw:              d.Weights.Decoder.MaskWidth,
		TargetWidth:     pageW,
		TargetHeight:    pageH,
		ID2Label:        id2label,
	}

	var classifierFn func(string, float64) (string, bool)
	if classifier != nil {
		classifierFn = classifier.ClassifyTask
	}
	detections, warnings := postprocess.Run(in, cfg, labelClassifierFunc(classifierFn))
	return detections, warnings, nil
}

type labelClassifierFunc func(string, float64) (string, bool)

func (f labelClassifierFunc) ClassifyTask(label string, score float64) (string, bool) {
	if f == nil {
		return "", false
	}
	return f(label, score)
}
