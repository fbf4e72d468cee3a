package recognizer

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/tansanrao/glm-ocr-swift/internal/config"
	"github.com/tansanrao/glm-ocr-swift/internal/recognizer/language"
	"github.com/tansanrao/glm-ocr-swift/internal/recognizer/vision"
	"github.com/tansanrao/glm-ocr-swift/internal/tensor"
	"github.com/tansanrao/glm-ocr-swift/internal/tokenizer"
)

func identityVisionLinear(inDim, outDim int) vision.Linear {
	w := tensor.New(outDim, inDim)
	for i := 0; i < outDim && i < inDim; i++ {
		w.Data[i*inDim+i] = 1
	}
	return vision.Linear{Weight: w, Bias: make([]float32, outDim)}
}

func identityLanguageLinear(inDim, outDim int) language.Linear {
	w := tensor.New(outDim, inDim)
	for i := 0; i < outDim && i < inDim; i++ {
		w.Data[i*inDim+i] = 1
	}
	return language.Linear{Weight: w, Bias: make([]float32, outDim)}
}

func onesF(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func tinyVisionWeights() *vision.Weights {
	cfg := vision.Config{
		PatchSize: 2, TemporalPatch: 1, SpatialMerge: 2,
		HiddenSize: 8, NumHeads: 2, Depth: 1, Eps: 1e-5,
		OutHiddenSize: 4, RopeTheta: 10000,
	}
	patchDim := 3 * 1 * 2 * 2
	blk := vision.BlockWeights{
		Norm1Weight: onesF(cfg.HiddenSize),
		QProj:       identityVisionLinear(cfg.HiddenSize, cfg.HiddenSize),
		KProj:       identityVisionLinear(cfg.HiddenSize, cfg.HiddenSize),
		VProj:       identityVisionLinear(cfg.HiddenSize, cfg.HiddenSize),
		OutProj:     identityVisionLinear(cfg.HiddenSize, cfg.HiddenSize),
		Norm2Weight: onesF(cfg.HiddenSize),
		Gate:        identityVisionLinear(cfg.HiddenSize, cfg.HiddenSize),
		Up:          identityVisionLinear(cfg.HiddenSize, cfg.HiddenSize),
		Down:        identityVisionLinear(cfg.HiddenSize, cfg.HiddenSize),
	}
	downsample := tensor.New(cfg.HiddenSize, cfg.HiddenSize, cfg.SpatialMerge, cfg.SpatialMerge)
	for c := 0; c < cfg.HiddenSize; c++ {
		idx := ((c*cfg.HiddenSize+c)*cfg.SpatialMerge)*cfg.SpatialMerge + 0
		downsample.Data[idx] = 1
	}
	merger := vision.MergerWeights{
		Proj:    identityVisionLinear(cfg.HiddenSize, cfg.HiddenSize),
		LNGamma: onesF(cfg.HiddenSize),
		LNBeta:  make([]float32, cfg.HiddenSize),
		Gate:    identityVisionLinear(cfg.HiddenSize, cfg.HiddenSize),
		Up:      identityVisionLinear(cfg.HiddenSize, cfg.HiddenSize),
		Down:    identityVisionLinear(cfg.HiddenSize, cfg.OutHiddenSize),
	}
	return &vision.Weights{
		Config:         cfg,
		PatchEmbed:     identityVisionLinear(patchDim, cfg.HiddenSize),
		Blocks:         []vision.BlockWeights{blk},
		PostNormWeight: onesF(cfg.HiddenSize),
		Downsample:     downsample,
		DownsampleBias: make([]float32, cfg.HiddenSize),
		Merger:         merger,
	}
}

func tinyLanguageWeights(imageTokenID int) *language.Weights {
	cfg := language.Config{
		HiddenSize: 4, NumHeads: 2, NumKVHeads: 1, NumLayers: 1,
		VocabSize: 128, Eps: 1e-5, RopeTheta: 10000,
		MRopeSections: [3]int{1, 0, 0}, MergeSize: 2,
		ImageTokenID: imageTokenID, VideoTokenID: imageTokenID + 1,
		ImageStartTokenID: imageTokenID - 1, CacheBlockSize: 8,
	}
	kvWidth := cfg.NumKVHeads * (cfg.HiddenSize / cfg.NumHeads)
	blk := language.BlockWeights{
		InputNorm:    onesF(cfg.HiddenSize),
		QProj:        identityLanguageLinear(cfg.HiddenSize, cfg.HiddenSize),
		KProj:        identityLanguageLinear(cfg.HiddenSize, kvWidth),
		VProj:        identityLanguageLinear(cfg.HiddenSize, kvWidth),
		OProj:        identityLanguageLinear(cfg.HiddenSize, cfg.HiddenSize),
		PostAttnNorm: onesF(cfg.HiddenSize),
		PreMLPNorm:   onesF(cfg.HiddenSize),
		GateUpProj:   identityLanguageLinear(cfg.HiddenSize, cfg.HiddenSize*2),
		DownProj:     identityLanguageLinear(cfg.HiddenSize, cfg.HiddenSize),
		PostMLPNorm:  onesF(cfg.HiddenSize),
	}
	embed := tensor.New(cfg.VocabSize, cfg.HiddenSize)
	for i := range embed.Data {
		embed.Data[i] = float32(i%5) * 0.01
	}
	return &language.Weights{
		Config:      cfg,
		EmbedTokens: embed,
		Blocks:      []language.BlockWeights{blk},
		FinalNorm:   onesF(cfg.HiddenSize),
		LMHead:      identityLanguageLinear(cfg.HiddenSize, cfg.VocabSize),
	}
}

func solidImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 120, G: 80, B: 200, A: 255})
		}
	}
	return img
}

// newTinyRecognizer builds a Recognizer whose Fake tokenizer resolves
// the fixed chat template's glued image-placeholder segment as a
// single atomic token id (Fake only splits on whitespace, so the
// template's punctuation-glued special tokens never separate the way a
// real BPE vocabulary would; this exercises the plumbing, not exact
// tokenization boundaries, which prepare_test.go and language_test.go
// already cover).
func newTinyRecognizer(t *testing.T) *Recognizer {
	t.Helper()
	const imagePlaceholderField = "<|begin_of_image|><|image|><|end_of_image|>X<|assistant|>"
	const imageTokenID = 50
	fake := tokenizer.NewFake(nil, map[string]int{imagePlaceholderField: imageTokenID})

	cfg := Config{
		Vision:        tinyVisionWeights().Config,
		Language:      tinyLanguageWeights(imageTokenID).Config,
		PatchSize:     2,
		TemporalPatch: 1,
		MergeSize:     2,
		MinPixels:     16,
		MaxPixels:     256,
		Mean:          [3]float32{0, 0, 0},
		Std:           [3]float32{1, 1, 1},
		ImagePlaceholderToken: imagePlaceholderField,
	}
	w := &Weights{Vision: tinyVisionWeights(), Language: tinyLanguageWeights(imageTokenID)}
	return New(w, fake, cfg)
}

func TestRecognizeRunsEndToEnd(t *testing.T) {
	r := newTinyRecognizer(t)
	img := solidImage(8, 8)
	opts := config.RecognitionOptions{
		MaxTokens: 2, Temperature: 0, TopP: 1, TopK: 0,
		RepetitionPenalty: 1, PrefillStepSize: 8,
	}
	text, err := r.Recognize(context.Background(), img, "X", opts)
	if err != nil {
		t.Fatalf("Recognize() error: %v", err)
	}
	_ = text // Fake's decode output isn't meaningful; just must not error.
}

func TestRecognizeRejectsNilWeights(t *testing.T) {
	fake := tokenizer.NewFake(nil, nil)
	r := New(nil, fake, Config{})
	img := solidImage(8, 8)
	_, err := r.Recognize(context.Background(), img, "X", config.RecognitionOptions{MaxTokens: 1})
	if err == nil {
		t.Fatalf("expected error for nil weights")
	}
}

func TestRecognizeRespectsCancellation(t *testing.T) {
	r := newTinyRecognizer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	img := solidImage(8, 8)
	_, err := r.Recognize(ctx, img, "X", config.RecognitionOptions{MaxTokens: 1})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestRecognizeErrorsWithoutImagePlaceholderToken(t *testing.T) {
	r := newTinyRecognizer(t)
	r.Config.ImagePlaceholderToken = "<|not-registered|>"
	img := solidImage(8, 8)
	_, err := r.Recognize(context.Background(), img, "X", config.RecognitionOptions{MaxTokens: 1, PrefillStepSize: 8})
	if err == nil {
		t.Fatalf("expected error when tokenizer has no id for the configured placeholder")
	}
}
