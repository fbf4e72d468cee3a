package config

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	c := DefaultConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("DefaultConfig() should validate, got: %v", err)
	}
	if c.MaxConcurrentRecognitions != 1 {
		t.Fatalf("shipping default for MaxConcurrentRecognitions must be 1, got %d", c.MaxConcurrentRecognitions)
	}
}

func TestValidateRejectsZeroConcurrency(t *testing.T) {
	c := DefaultConfig()
	c.MaxConcurrentRecognitions = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for zero MaxConcurrentRecognitions")
	}
}

func TestValidateRejectsEmptyPrompt(t *testing.T) {
	c := DefaultConfig()
	c.Prompts.Table = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for empty prompt")
	}
}

func TestEffectiveMaxPages(t *testing.T) {
	five := uint32(5)
	two := uint32(2)
	c := DefaultConfig()

	if got := EffectiveMaxPages(nil, c); got != nil {
		t.Fatalf("expected nil cap when nothing is set, got %v", *got)
	}

	c.DefaultMaxPages = &two
	if got := EffectiveMaxPages(&five, c); got == nil || *got != 2 {
		t.Fatalf("expected min(5,2)=2, got %v", got)
	}

	c.DefaultMaxPages = nil
	if got := EffectiveMaxPages(&five, c); got == nil || *got != 5 {
		t.Fatalf("expected 5 when only options.max_pages is set, got %v", got)
	}

	c.DefaultMaxPages = &two
	if got := EffectiveMaxPages(nil, c); got == nil || *got != 2 {
		t.Fatalf("expected 2 when only default_max_pages is set, got %v", got)
	}
}
