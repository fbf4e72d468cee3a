// Package config holds the validated, defaulted configuration consumed
// by every pipeline collaborator. It follows the teacher's
// DefaultXxx()+Validate() convention (wudi-pdfkit/security.Limits)
// rather than a struct-tag-driven loader.
package config

import (
	"fmt"
	"sort"
)

// RecognitionOptions controls generation sampling for the recognizer.
type RecognitionOptions struct {
	MaxTokens          int
	Temperature        float64
	PrefillStepSize    int
	TopP               float64
	TopK               int
	RepetitionPenalty  float64
}

// Prompts holds the per-task chat prompts.
type Prompts struct {
	NoLayout string
	Text     string
	Table    string
	Formula  string
}

// MergeMode controls how the containment filter treats a class during
// layout postprocessing (spec.md §4.3.7 step 7).
type MergeMode string

const (
	MergeModeNone  MergeMode = ""
	MergeModeLarge MergeMode = "large"
	MergeModeSmall MergeMode = "small"
)

// LayoutConfig controls layout postprocessing (spec.md §4.3.7).
type LayoutConfig struct {
	Threshold         float64
	ThresholdByClass  map[string]float64
	LayoutNMS         bool
	UnclipRatioX      float64
	UnclipRatioY      float64
	MergeBBoxesMode   map[string]MergeMode
	LabelTaskMapping  map[string]string
	ID2Label          map[int]string
}

// Config is the full, recognized configuration surface (spec.md §6).
type Config struct {
	RecognizerModelID          string
	LayoutModelID              string
	MaxConcurrentRecognitions  uint32
	EnableLayout               bool
	Recognition                RecognitionOptions
	Prompts                    Prompts
	Layout                     LayoutConfig
	PDFDPI                     int
	PDFMaxRenderedLongSide     int
	DefaultMaxPages            *uint32
}

// DefaultConfig returns the shipping defaults from spec.md §6. Per the
// Open Question in spec.md §9, MaxConcurrentRecognitions defaults to 1
// (the shipping default, not the validation-tests' 2), treated as
// normative.
func DefaultConfig() Config {
	return Config{
		RecognizerModelID:         "mlx-community/GLM-OCR-bf16",
		LayoutModelID:             "PaddlePaddle/PP-DocLayoutV3_safetensors",
		MaxConcurrentRecognitions: 1,
		EnableLayout:              true,
		Recognition: RecognitionOptions{
			MaxTokens:         4096,
			Temperature:       0,
			PrefillStepSize:   2048,
			TopP:              1,
			TopK:              1,
			RepetitionPenalty: 1,
		},
		Prompts: Prompts{
			NoLayout: "Free OCR.",
			Text:     "Recognize the text in this image.",
			Table:    "Recognize the table in this image as HTML.",
			Formula:  "Recognize the formula in this image as LaTeX.",
		},
		Layout: LayoutConfig{
			Threshold:    0.3,
			LayoutNMS:    true,
			UnclipRatioX: 1,
			UnclipRatioY: 1,
			MergeBBoxesMode: map[string]MergeMode{},
			LabelTaskMapping: map[string]string{
				"table":            "table",
				"formula":          "formula",
				"image":            "skip",
				"seal":             "skip",
				"abandon":          "abandon",
				"formula_number":   "skip",
			},
		},
		PDFDPI:                 200,
		PDFMaxRenderedLongSide: 3500,
	}
}

// Validate checks invariants described in spec.md §6 and §4.1,
// returning a plain error (the caller at the public API boundary wraps
// it into glmocr.Error{Kind: InvalidConfiguration}).
func (c Config) Validate() error {
	if c.MaxConcurrentRecognitions < 1 {
		return fmt.Errorf("max_concurrent_recognitions must be >= 1, got %d", c.MaxConcurrentRecognitions)
	}
	if c.PDFDPI <= 0 {
		return fmt.Errorf("pdf_dpi must be > 0, got %d", c.PDFDPI)
	}
	if c.PDFMaxRenderedLongSide <= 0 {
		return fmt.Errorf("pdf_max_rendered_long_side must be > 0, got %d", c.PDFMaxRenderedLongSide)
	}
	if c.Layout.Threshold < 0 || c.Layout.Threshold > 1 {
		return fmt.Errorf("layout.threshold must be in [0,1], got %v", c.Layout.Threshold)
	}
	if emptyStr(c.Prompts.NoLayout) || emptyStr(c.Prompts.Text) || emptyStr(c.Prompts.Table) || emptyStr(c.Prompts.Formula) {
		return fmt.Errorf("all prompts must be non-empty")
	}
	if c.Recognition.MaxTokens <= 0 {
		return fmt.Errorf("recognition.max_tokens must be > 0, got %d", c.Recognition.MaxTokens)
	}
	if c.Recognition.PrefillStepSize <= 0 {
		return fmt.Errorf("recognition.prefill_step_size must be > 0, got %d", c.Recognition.PrefillStepSize)
	}
	return nil
}

func emptyStr(s string) bool { return len(s) == 0 }

// EffectiveMaxPages applies the min(a,b) rule of spec.md §4.1.
func EffectiveMaxPages(optionsMaxPages *uint32, c Config) *uint32 {
	a := optionsMaxPages
	b := c.DefaultMaxPages
	switch {
	case a != nil && b != nil:
		v := *a
		if *b < v {
			v = *b
		}
		return &v
	case a != nil:
		v := *a
		return &v
	case b != nil:
		v := *b
		return &v
	default:
		return nil
	}
}

// SortedClassIDs returns the ID2Label map's keys sorted, useful for
// deterministic diagnostics/metadata emission.
func (lc LayoutConfig) SortedClassIDs() []int {
	ids := make([]int, 0, len(lc.ID2Label))
	for id := range lc.ID2Label {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
