package recognizer

import (
	"fmt"

	"github.com/tansanrao/glm-ocr-swift/internal/recognizer/language"
	"github.com/tansanrao/glm-ocr-swift/internal/recognizer/vision"
	"github.com/tansanrao/glm-ocr-swift/internal/recognizer/weights"
	"github.com/tansanrao/glm-ocr-swift/internal/tensor"
)

// SanitizeCheckpoint applies weights.Rewrite to every key in a raw
// checkpoint tensor map, dropping rejected keys (spec.md §4.5).
func SanitizeCheckpoint(raw map[string]*tensor.Tensor) map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor, len(raw))
	for k, v := range raw {
		if rewritten, ok := weights.Rewrite(k); ok {
			out[rewritten] = v
		}
	}
	return out
}

func get(tensors map[string]*tensor.Tensor, key string) (*tensor.Tensor, error) {
	t, ok := tensors[key]
	if !ok {
		return nil, fmt.Errorf("recognizer: checkpoint missing tensor %q", key)
	}
	return t, nil
}

func getVec(tensors map[string]*tensor.Tensor, key string) ([]float32, error) {
	t, err := get(tensors, key)
	if err != nil {
		return nil, err
	}
	return t.Data, nil
}

func optBias(tensors map[string]*tensor.Tensor, key string) []float32 {
	if t, ok := tensors[key]; ok {
		return t.Data
	}
	return nil
}

// loadVisionLinear and loadLanguageLinear are written per-package
// rather than against one shared Linear type, since vision.Linear and
// language.Linear are intentionally separate flat structs (spec.md §9's
// "flat structs, not deep inheritance" design note).
func loadVisionLinear(tensors map[string]*tensor.Tensor, prefix string) (vision.Linear, error) {
	w, err := get(tensors, prefix+".weight")
	if err != nil {
		return vision.Linear{}, err
	}
	return vision.Linear{Weight: w, Bias: optBias(tensors, prefix+".bias")}, nil
}

func loadLanguageLinear(tensors map[string]*tensor.Tensor, prefix string) (language.Linear, error) {
	w, err := get(tensors, prefix+".weight")
	if err != nil {
		return language.Linear{}, err
	}
	return language.Linear{Weight: w, Bias: optBias(tensors, prefix+".bias")}, nil
}

// LoadVisionWeights assembles vision.Weights from a sanitized
// checkpoint tensor map, using the vision_tower.* key scheme spec.md
// §4.5 describes.
func LoadVisionWeights(tensors map[string]*tensor.Tensor, cfg vision.Config) (*vision.Weights, error) {
	patchEmbedWeight, err := get(tensors, "vision_tower.patch_embed.proj.weight")
	if err != nil {
		return nil, err
	}
	flatPatchEmbed, err := flattenPatchEmbed(patchEmbedWeight, cfg)
	if err != nil {
		return nil, fmt.Errorf("recognizer: patch embed: %w", err)
	}
	patchEmbed := vision.Linear{Weight: flatPatchEmbed, Bias: optBias(tensors, "vision_tower.patch_embed.proj.bias")}

	blocks := make([]vision.BlockWeights, cfg.Depth)
	for i := 0; i < cfg.Depth; i++ {
		p := fmt.Sprintf("vision_tower.blocks.%d", i)
		norm1, err := getVec(tensors, p+".norm1.weight")
		if err != nil {
			return nil, err
		}
		q, err := loadVisionLinear(tensors, p+".attn.q_proj")
		if err != nil {
			return nil, err
		}
		k, err := loadVisionLinear(tensors, p+".attn.k_proj")
		if err != nil {
			return nil, err
		}
		v, err := loadVisionLinear(tensors, p+".attn.v_proj")
		if err != nil {
			return nil, err
		}
		out, err := loadVisionLinear(tensors, p+".attn.proj")
		if err != nil {
			return nil, err
		}
		norm2, err := getVec(tensors, p+".norm2.weight")
		if err != nil {
			return nil, err
		}
		gate, err := loadVisionLinear(tensors, p+".mlp.gate_proj")
		if err != nil {
			return nil, err
		}
		up, err := loadVisionLinear(tensors, p+".mlp.up_proj")
		if err != nil {
			return nil, err
		}
		down, err := loadVisionLinear(tensors, p+".mlp.down_proj")
		if err != nil {
			return nil, err
		}
		blocks[i] = vision.BlockWeights{
			Norm1Weight: norm1, QProj: q, KProj: k, VProj: v, OutProj: out,
			Norm2Weight: norm2, Gate: gate, Up: up, Down: down,
		}
	}

	postNorm, err := getVec(tensors, "vision_tower.post_layernorm.weight")
	if err != nil {
		return nil, err
	}
	downsampleW, err := get(tensors, "vision_tower.downsample.weight")
	if err != nil {
		return nil, err
	}

	mergerProj, err := loadVisionLinear(tensors, "vision_tower.merger.proj")
	if err != nil {
		return nil, err
	}
	lnGamma, err := getVec(tensors, "vision_tower.merger.post_projection_norm.weight")
	if err != nil {
		return nil, err
	}
	lnBeta := optBias(tensors, "vision_tower.merger.post_projection_norm.bias")
	mergerGate, err := loadVisionLinear(tensors, "vision_tower.merger.gate_proj")
	if err != nil {
		return nil, err
	}
	mergerUp, err := loadVisionLinear(tensors, "vision_tower.merger.up_proj")
	if err != nil {
		return nil, err
	}
	mergerDown, err := loadVisionLinear(tensors, "vision_tower.merger.down_proj")
	if err != nil {
		return nil, err
	}

	return &vision.Weights{
		Config:         cfg,
		PatchEmbed:     patchEmbed,
		Blocks:         blocks,
		PostNormWeight: postNorm,
		Downsample:     downsampleW,
		DownsampleBias: optBias(tensors, "vision_tower.downsample.bias"),
		Merger: vision.MergerWeights{
			Proj: mergerProj, LNGamma: lnGamma, LNBeta: lnBeta,
			Gate: mergerGate, Up: mergerUp, Down: mergerDown,
		},
	}, nil
}

// flattenPatchEmbed reshapes a conv3d patch-embed weight of shape
// [hidden,C,temporalPatch,patch,patch] into the [hidden, C*temporalPatch*
// patch^2] matrix vision.Forward expects, using the tensor's existing
// row-major layout directly: internal/recognizer/prepare.Patchify
// flattens each patch channel-outer, temporal-inner, which already
// matches a conv3d weight's native flatten order, so no permutation is
// needed here (spec.md §4.5's channels-last transpose note applies to
// the target runtime's layout, not to this from-scratch Go backend).
func flattenPatchEmbed(raw *tensor.Tensor, cfg vision.Config) (*tensor.Tensor, error) {
	if len(raw.Shape) != 2 && len(raw.Shape) != 5 {
		return nil, fmt.Errorf("recognizer: unexpected patch embed weight shape %v", raw.Shape)
	}
	if len(raw.Shape) == 2 {
		return raw, nil
	}
	hidden := raw.Shape[0]
	patchDim := raw.Shape[1] * raw.Shape[2] * raw.Shape[3] * raw.Shape[4]
	return raw.Reshape(hidden, patchDim)
}

// LoadLanguageWeights assembles language.Weights from a sanitized
// checkpoint tensor map, using the language_model.model.* key scheme
// spec.md §4.5 describes.
func LoadLanguageWeights(tensors map[string]*tensor.Tensor, cfg language.Config) (*language.Weights, error) {
	if cfg.NumLayers > weights.MaxHiddenLayers {
		return nil, fmt.Errorf("recognizer: language model has %d layers, more than the %d the checkpoint sanitizer supports", cfg.NumLayers, weights.MaxHiddenLayers)
	}
	embed, err := get(tensors, "language_model.model.embed_tokens.weight")
	if err != nil {
		return nil, err
	}

	blocks := make([]language.BlockWeights, cfg.NumLayers)
	for i := 0; i < cfg.NumLayers; i++ {
		p := fmt.Sprintf("language_model.model.layers.%d", i)
		inputNorm, err := getVec(tensors, p+".input_layernorm.weight")
		if err != nil {
			return nil, err
		}
		q, err := loadLanguageLinear(tensors, p+".self_attn.q_proj")
		if err != nil {
			return nil, err
		}
		k, err := loadLanguageLinear(tensors, p+".self_attn.k_proj")
		if err != nil {
			return nil, err
		}
		v, err := loadLanguageLinear(tensors, p+".self_attn.v_proj")
		if err != nil {
			return nil, err
		}
		o, err := loadLanguageLinear(tensors, p+".self_attn.o_proj")
		if err != nil {
			return nil, err
		}
		postAttnNorm, err := getVec(tensors, p+".post_self_attn_layernorm.weight")
		if err != nil {
			return nil, err
		}
		preMLPNorm, err := getVec(tensors, p+".post_attention_layernorm.weight")
		if err != nil {
			return nil, err
		}
		gateUp, err := loadLanguageLinear(tensors, p+".mlp.gate_up_proj")
		if err != nil {
			return nil, err
		}
		down, err := loadLanguageLinear(tensors, p+".mlp.down_proj")
		if err != nil {
			return nil, err
		}
		postMLPNorm, err := getVec(tensors, p+".post_mlp_layernorm.weight")
		if err != nil {
			return nil, err
		}
		blocks[i] = language.BlockWeights{
			InputNorm: inputNorm, QProj: q, KProj: k, VProj: v, OProj: o,
			PostAttnNorm: postAttnNorm, PreMLPNorm: preMLPNorm,
			GateUpProj: gateUp, DownProj: down, PostMLPNorm: postMLPNorm,
		}
	}

	finalNorm, err := getVec(tensors, "language_model.model.norm.weight")
	if err != nil {
		return nil, err
	}
	lmHead, err := loadLanguageLinear(tensors, "language_model.lm_head")
	if err != nil {
		return nil, err
	}

	return &language.Weights{
		Config:      cfg,
		EmbedTokens: embed,
		Blocks:      blocks,
		FinalNorm:   finalNorm,
		LMHead:      lmHead,
	}, nil
}

// LoadWeights sanitizes a raw checkpoint tensor map and assembles both
// model stages' weights in one call.
func LoadWeights(raw map[string]*tensor.Tensor, cfg Config) (*Weights, error) {
	sanitized := SanitizeCheckpoint(raw)
	v, err := LoadVisionWeights(sanitized, cfg.Vision)
	if err != nil {
		return nil, fmt.Errorf("recognizer: load vision weights: %w", err)
	}
	l, err := LoadLanguageWeights(sanitized, cfg.Language)
	if err != nil {
		return nil, fmt.Errorf("recognizer: load language weights: %w", err)
	}
	return &Weights{Vision: v, Language: l}, nil
}
