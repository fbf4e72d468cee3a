package weights

import "testing"

func TestRewriteVisualToVisionTower(t *testing.T) {
	got, ok := Rewrite("model.visual.blocks.0.attn.qkv.weight")
	if !ok {
		t.Fatalf("expected key to survive rewrite")
	}
	want := "vision_tower.blocks.0.attn.qkv.weight"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRewriteDoesNotDoubleRenameVisionTower(t *testing.T) {
	got, ok := Rewrite("vision_tower.blocks.0.norm1.weight")
	if !ok || got != "vision_tower.blocks.0.norm1.weight" {
		t.Fatalf("expected vision_tower key unchanged, got %q ok=%v", got, ok)
	}
}

func TestRewriteLanguageModelPrefix(t *testing.T) {
	got, ok := Rewrite("model.language_model.layers.3.self_attn.q_proj.weight")
	if !ok {
		t.Fatalf("expected key to survive rewrite")
	}
	want := "language_model.model.layers.3.self_attn.q_proj.weight"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRewriteLMHead(t *testing.T) {
	got, ok := Rewrite("lm_head.weight")
	if !ok {
		t.Fatalf("expected key to survive rewrite")
	}
	if got != "language_model.lm_head.weight" {
		t.Fatalf("got %q", got)
	}
}

func TestRewriteDropsSentinelLayer(t *testing.T) {
	if _, ok := Rewrite("language_model.model.layers.16.self_attn.q_proj.weight"); ok {
		t.Fatalf("expected layers.16 key to be dropped")
	}
}

func TestRewriteDropsVisionPositionIds(t *testing.T) {
	if _, ok := Rewrite("vision_tower.position_ids"); ok {
		t.Fatalf("expected vision tower position_ids to be dropped")
	}
}

func TestRewriteAllFiltersDroppedKeys(t *testing.T) {
	keys := []string{
		"lm_head.weight",
		"language_model.model.layers.16.mlp.gate_proj.weight",
		"model.visual.patch_embed.proj.weight",
	}
	out := RewriteAll(keys)
	if len(out) != 2 {
		t.Fatalf("expected 2 surviving keys, got %d: %v", len(out), out)
	}
}
