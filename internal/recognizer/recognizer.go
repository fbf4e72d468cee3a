// Package recognizer wires input preparation, the vision tower, and the
// language model into one end-to-end region recognition call (spec.md
// §4.4 end to end).
package recognizer

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/tansanrao/glm-ocr-swift/internal/config"
	"github.com/tansanrao/glm-ocr-swift/internal/imageprep"
	"github.com/tansanrao/glm-ocr-swift/internal/recognizer/language"
	"github.com/tansanrao/glm-ocr-swift/internal/recognizer/prepare"
	"github.com/tansanrao/glm-ocr-swift/internal/recognizer/vision"
	"github.com/tansanrao/glm-ocr-swift/internal/tokenizer"
)

// Config holds the recognizer's preprocessing constants, alongside the
// vision tower and language model architecture configs (spec.md
// §4.4.1).
type Config struct {
	Vision   vision.Config
	Language language.Config

	PatchSize     int
	TemporalPatch int
	MergeSize     int
	MinPixels     int
	MaxPixels     int
	Mean, Std     [3]float32

	ImagePlaceholderToken string
	EOSTokens             []string
}

// Weights bundles the two model stages' loaded parameters.
type Weights struct {
	Vision   *vision.Weights
	Language *language.Weights
}

// Recognizer runs the recognizer's end-to-end forward pass over a
// single cropped region image.
type Recognizer struct {
	Weights   *Weights
	Tokenizer tokenizer.Tokenizer
	Config    Config
}

// New constructs a Recognizer from loaded weights, a tokenizer
// collaborator, and architecture/preprocessing config.
func New(w *Weights, tok tokenizer.Tokenizer, cfg Config) *Recognizer {
	return &Recognizer{Weights: w, Tokenizer: tok, Config: cfg}
}

// Recognize runs smart-resize preprocessing, patchify, the vision
// tower, M-RoPE-aware prefill, and token generation over one region
// image, returning the decoded Markdown-ish text span (spec.md §4.4).
func (r *Recognizer) Recognize(ctx context.Context, img image.Image, prompt string, opts config.RecognitionOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.Weights == nil || r.Weights.Vision == nil || r.Weights.Language == nil {
		return "", fmt.Errorf("recognizer: no loaded weights")
	}

	bounds := img.Bounds()
	factor := r.Config.PatchSize * r.Config.MergeSize
	rh, rw, err := imageprep.SmartResize(bounds.Dy(), bounds.Dx(), imageprep.SmartResizeParams{
		Factor:    factor,
		MinPixels: r.Config.MinPixels,
		MaxPixels: r.Config.MaxPixels,
	})
	if err != nil {
		return "", fmt.Errorf("recognizer: smart resize: %w", err)
	}

	tensorImg, err := imageprep.DecodeToTensor(img, rw, rh, imageprep.Bicubic, r.Config.Mean[:], r.Config.Std[:])
	if err != nil {
		return "", fmt.Errorf("recognizer: preprocess: %w", err)
	}

	patches, grid, err := prepare.Patchify(tensorImg, r.Config.TemporalPatch, r.Config.PatchSize)
	if err != nil {
		return "", fmt.Errorf("recognizer: patchify: %w", err)
	}

	fullPrompt := prepare.BuildPrompt(prompt)
	tokenIDs, err := r.Tokenizer.Encode(fullPrompt)
	if err != nil {
		return "", fmt.Errorf("recognizer: tokenize: %w", err)
	}

	imageTokenID, ok := r.Tokenizer.TokenID(r.Config.ImagePlaceholderToken)
	if !ok {
		return "", fmt.Errorf("recognizer: tokenizer has no id for image placeholder %q", r.Config.ImagePlaceholderToken)
	}
	tokenIDs = prepare.ExpandImagePlaceholder(tokenIDs, imageTokenID, grid, r.Config.MergeSize)

	visionFeatures, err := vision.Forward(patches, []vision.ImageGrid{{T: grid[0], H: grid[1], W: grid[2]}}, r.Weights.Vision)
	if err != nil {
		return "", fmt.Errorf("recognizer: vision tower: %w", err)
	}
	spans := []language.VisionSpan{{T: grid[0], H: grid[1], W: grid[2]}}

	var eosIDs []int
	for _, name := range r.Config.EOSTokens {
		if id, ok := r.Tokenizer.TokenID(name); ok {
			eosIDs = append(eosIDs, id)
		}
	}

	genOpts := language.GenerateOptions{
		MaxTokens:         opts.MaxTokens,
		Temperature:       opts.Temperature,
		TopP:              opts.TopP,
		TopK:              opts.TopK,
		RepetitionPenalty: opts.RepetitionPenalty,
		PrefillStepSize:   opts.PrefillStepSize,
		EOSTokenIDs:       eosIDs,
	}

	generated, err := language.Generate(ctx, tokenIDs, visionFeatures, spans, r.Weights.Language, genOpts)
	if err != nil {
		return "", fmt.Errorf("recognizer: generate: %w", err)
	}

	text, err := r.Tokenizer.Decode(stripEOS(generated, eosIDs))
	if err != nil {
		return "", fmt.Errorf("recognizer: decode: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// stripEOS drops a trailing EOS id from the generated sequence before
// decoding, so the stop token never leaks into the rendered text.
func stripEOS(ids []int, eos []int) []int {
	if len(ids) == 0 {
		return ids
	}
	last := ids[len(ids)-1]
	for _, e := range eos {
		if last == e {
			return ids[:len(ids)-1]
		}
	}
	return ids
}
