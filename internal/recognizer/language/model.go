package language

import (
	"fmt"

	"github.com/tansanrao/glm-ocr-swift/internal/tensor"
)

// Embed looks up token embeddings from the model's embedding table.
func Embed(tokenIDs []int, w *Weights) (*tensor.Tensor, error) {
	hidden := w.Config.HiddenSize
	out := tensor.New(len(tokenIDs), hidden)
	for i, id := range tokenIDs {
		if id < 0 || id >= w.Config.VocabSize {
			return nil, fmt.Errorf("language: token id %d out of vocab range [0,%d)", id, w.Config.VocabSize)
		}
		copy(out.Data[i*hidden:(i+1)*hidden], w.EmbedTokens.Data[id*hidden:(id+1)*hidden])
	}
	return out, nil
}

// MergeVisionFeatures replaces embedding rows where tokenIDs[i] equals
// the image-token id with visionFeatures rows in order, falling back
// to the video-token id if no image tokens are present. It asserts the
// vision features are consumed exactly (spec.md §4.4.4).
func MergeVisionFeatures(embeds *tensor.Tensor, tokenIDs []int, visionFeatures *tensor.Tensor, cfg Config) error {
	if visionFeatures == nil {
		return nil
	}
	targetID := cfg.ImageTokenID
	found := false
	for _, id := range tokenIDs {
		if id == cfg.ImageTokenID {
			found = true
			break
		}
	}
	if !found {
		targetID = cfg.VideoTokenID
	}
	hidden := embeds.Shape[1]
	row := 0
	for i, id := range tokenIDs {
		if id != targetID {
			continue
		}
		if row >= visionFeatures.Shape[0] {
			return fmt.Errorf("language: more placeholder tokens than vision feature rows")
		}
		copy(embeds.Data[i*hidden:(i+1)*hidden], visionFeatures.Data[row*hidden:(row+1)*hidden])
		row++
	}
	if row != visionFeatures.Shape[0] {
		return fmt.Errorf("language: vision features not fully consumed: used %d of %d", row, visionFeatures.Shape[0])
	}
	return nil
}

// Forward runs the decoder stack over embeds (already vision-merged if
// applicable), appending to cache, and returns logits for every input
// position (caller takes the last row for sampling).
func Forward(embeds *tensor.Tensor, pos Positions, cache *Cache, w *Weights) (*tensor.Tensor, error) {
	cos, sin, err := BuildRotaryTables(pos, w.Config)
	if err != nil {
		return nil, err
	}
	x := embeds
	for i, blk := range w.Blocks {
		x, err = runBlock(x, cos, sin, cache.Layers[i], blk, w.Config)
		if err != nil {
			return nil, fmt.Errorf("language: block %d: %w", i, err)
		}
	}
	x, err = tensor.RMSNorm(x, w.FinalNorm, w.Config.Eps)
	if err != nil {
		return nil, err
	}
	return w.LMHead.forward(x)
}
