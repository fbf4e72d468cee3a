// Package weights implements the recognizer checkpoint weight-name
// sanitization rewrite (spec.md §4.5) as a pure function over key
// names, independent of any particular safetensors loader.
package weights

import "strings"

// MaxHiddenLayers is the sentinel layer count this sanitizer assumes:
// Rewrite drops every key containing "layers.16". LoadLanguageWeights
// in internal/recognizer rejects a config with more layers rather than
// silently losing the extra layers (spec.md §9 Open Question).
const MaxHiddenLayers = 16

// Rewrite applies the exact rewrite rules from spec.md §4.5 to one
// checkpoint key. ok is false when the key should be dropped entirely.
func Rewrite(key string) (rewritten string, ok bool) {
	if strings.Contains(key, "layers.16") {
		return "", false
	}
	if (strings.Contains(key, "vision_tower") || strings.Contains(key, "visual")) && strings.Contains(key, "position_ids") {
		return "", false
	}

	if strings.Contains(key, "visual") && !strings.Contains(key, "vision_tower") {
		k := strings.TrimPrefix(key, "model.")
		k = strings.ReplaceAll(k, "visual", "vision_tower")
		return k, true
	}

	if strings.HasPrefix(key, "model.language_model.") {
		return "language_model.model." + strings.TrimPrefix(key, "model.language_model."), true
	}

	if strings.Contains(key, "lm_head") && !strings.HasPrefix(key, "language_model.") && !strings.Contains(key, "language_model.") {
		return "language_model.lm_head" + strings.TrimPrefix(key, "lm_head"), true
	}

	return key, true
}

// RewriteAll applies Rewrite to every key in a list of checkpoint
// tensor names, dropping keys the rewrite rejects.
func RewriteAll(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if rewritten, ok := Rewrite(k); ok {
			out = append(out, rewritten)
		}
	}
	return out
}

// NeedsChannelsLastTranspose reports whether a patch-embed or
// downsample conv weight saved channels-first must be transposed to
// channels-last before use, per spec.md §4.5. This only inspects the
// key name; the caller performs the actual tensor transpose.
func NeedsChannelsLastTranspose(key string) bool {
	return (strings.Contains(key, "patch_embed") || strings.Contains(key, "downsample")) &&
		(strings.HasSuffix(key, ".weight"))
}
