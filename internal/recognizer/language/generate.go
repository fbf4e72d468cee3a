package language

import (
	"context"
	"fmt"

	"github.com/tansanrao/glm-ocr-swift/internal/tensor"
)

// GenerateOptions controls the decoding loop (spec.md §4.4.3, §4.4.6).
type GenerateOptions struct {
	MaxTokens         int
	Temperature       float64
	TopP              float64
	TopK              int
	RepetitionPenalty float64
	PrefillStepSize   int
	EOSTokenIDs       []int
}

func isEOS(id int, eos []int) bool {
	for _, e := range eos {
		if id == e {
			return true
		}
	}
	return false
}

// Generate runs chunked prefill followed by single-token decode steps
// until an EOS id is produced or MaxTokens is reached, returning the
// full generated token sequence (spec.md §4.4.6).
func Generate(ctx context.Context, tokenIDs []int, visionFeatures *tensor.Tensor, spans []VisionSpan, w *Weights, opts GenerateOptions) ([]int, error) {
	cfg := w.Config
	embeds, err := Embed(tokenIDs, w)
	if err != nil {
		return nil, fmt.Errorf("language: embed: %w", err)
	}
	if err := MergeVisionFeatures(embeds, tokenIDs, visionFeatures, cfg); err != nil {
		return nil, fmt.Errorf("language: merge vision features: %w", err)
	}
	pos, err := GetRopeIndex(tokenIDs, spans, cfg)
	if err != nil {
		return nil, fmt.Errorf("language: rope index: %w", err)
	}

	cache := NewCache(cfg)
	logits, err := prefill(embeds, pos, cache, w, opts.PrefillStepSize)
	if err != nil {
		return nil, err
	}

	generated := append([]int(nil), tokenIDs...)
	firstLogits := lastRow(logits)
	ApplyRepetitionPenalty(firstLogits, generated, opts.RepetitionPenalty)
	logProbs := LogSoftmax(firstLogits)
	next := Sample(logProbs, opts.Temperature, opts.TopP, opts.TopK)
	generated = append(generated, next)
	result := []int{next}

	if isEOS(next, opts.EOSTokenIDs) {
		return result, nil
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1
	}
	for len(result) < maxTokens {
		if len(result)%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("language: generation cancelled: %w", err)
			}
		}
		stepEmbeds, err := Embed([]int{next}, w)
		if err != nil {
			return nil, fmt.Errorf("language: embed decode step: %w", err)
		}
		decodePos := decodeStepPositions(cache, pos.Delta)
		logits, err := Forward(stepEmbeds, decodePos, cache, w)
		if err != nil {
			return nil, fmt.Errorf("language: decode step forward: %w", err)
		}
		stepLogits := lastRow(logits)
		ApplyRepetitionPenalty(stepLogits, generated, opts.RepetitionPenalty)
		logProbs = LogSoftmax(stepLogits)
		next = Sample(logProbs, opts.Temperature, opts.TopP, opts.TopK)
		generated = append(generated, next)
		result = append(result, next)
		if isEOS(next, opts.EOSTokenIDs) {
			break
		}
	}
	return result, nil
}

// prefill implements spec.md §4.4.6 step 2: when the prompt is longer
// than PrefillStepSize, process it in fixed-size chunks (advancing the
// cache each chunk) and reduce the residual prompt to a single
// trailing token slot so only one forward call produces usable logits.
func prefill(embeds *tensor.Tensor, pos Positions, cache *Cache, w *Weights, stepSize int) (*tensor.Tensor, error) {
	total := embeds.Shape[0]
	if stepSize <= 0 || total <= stepSize || total <= 1 {
		return Forward(embeds, pos, cache, w)
	}
	remaining := total - 1
	processed := 0
	for processed < remaining {
		end := processed + stepSize
		if end > remaining {
			end = remaining
		}
		chunkEmbeds := sliceRows(embeds, processed, end)
		chunkPos := slicePositions(pos, processed, end)
		if _, err := Forward(chunkEmbeds, chunkPos, cache, w); err != nil {
			return nil, fmt.Errorf("language: prefill chunk [%d,%d): %w", processed, end, err)
		}
		processed = end
	}
	lastEmbeds := sliceRows(embeds, total-1, total)
	lastPos := slicePositions(pos, total-1, total)
	return Forward(lastEmbeds, lastPos, cache, w)
}

func sliceRows(x *tensor.Tensor, start, end int) *tensor.Tensor {
	width := x.Shape[1]
	out := tensor.New(end-start, width)
	copy(out.Data, x.Data[start*width:end*width])
	return out
}

func slicePositions(pos Positions, start, end int) Positions {
	return Positions{
		T:     append([]int(nil), pos.T[start:end]...),
		H:     append([]int(nil), pos.H[start:end]...),
		W:     append([]int(nil), pos.W[start:end]...),
		Delta: pos.Delta,
	}
}

// decodeStepPositions computes the single-token position for a decode
// step from the cache offset and the cached rope delta (spec.md
// §4.4.5): "compute positions from cache_offset + (0..L) + rope_deltas".
func decodeStepPositions(cache *Cache, delta int) Positions {
	p := cache.Offset() + delta
	return Positions{T: []int{p}, H: []int{p}, W: []int{p}, Delta: delta}
}

func lastRow(x *tensor.Tensor) []float32 {
	width := x.Shape[1]
	n := x.Shape[0]
	return append([]float32(nil), x.Data[(n-1)*width:n*width]...)
}
