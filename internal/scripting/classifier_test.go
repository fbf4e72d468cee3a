package scripting

import (
	"context"
	"testing"
	"time"
)

func TestClassifyTaskOverridesUnmappedLabel(t *testing.T) {
	c, err := NewLabelClassifier(`function classify(label, score) {
		if (label === "equation_block") { return "formula" }
		return false
	}`)
	if err != nil {
		t.Fatalf("NewLabelClassifier failed: %v", err)
	}
	task, ok := c.ClassifyTask("equation_block", 0.92)
	if !ok || task != "formula" {
		t.Fatalf("expected formula classification, got %q ok=%v", task, ok)
	}
}

func TestClassifyTaskFalsyDefersToConfigMap(t *testing.T) {
	c, err := NewLabelClassifier(`function classify(label, score) { return false }`)
	if err != nil {
		t.Fatalf("NewLabelClassifier failed: %v", err)
	}
	_, ok := c.ClassifyTask("text", 0.5)
	if ok {
		t.Fatalf("expected no classification for falsy return")
	}
}

func TestClassifyTaskUsesScoreThreshold(t *testing.T) {
	c, err := NewLabelClassifier(`function classify(label, score) {
		if (score < 0.5) { return "abandon" }
		return false
	}`)
	if err != nil {
		t.Fatalf("NewLabelClassifier failed: %v", err)
	}
	task, ok := c.ClassifyTask("stamp", 0.1)
	if !ok || task != "abandon" {
		t.Fatalf("expected abandon classification for low score, got %q ok=%v", task, ok)
	}
	if _, ok := c.ClassifyTask("stamp", 0.9); ok {
		t.Fatalf("expected no classification for high score")
	}
}

func TestNewLabelClassifierRejectsMissingFunction(t *testing.T) {
	if _, err := NewLabelClassifier(`var x = 1;`); err == nil {
		t.Fatalf("expected error for script without a classify function")
	}
}

func TestNewLabelClassifierRejectsSyntaxError(t *testing.T) {
	if _, err := NewLabelClassifier(`function classify( {{{`); err == nil {
		t.Fatalf("expected compile error for invalid script")
	}
}

func TestClassifyTaskContextRespectsCancellation(t *testing.T) {
	c, err := NewLabelClassifier(`function classify(label, score) { while (true) {} }`)
	if err != nil {
		t.Fatalf("NewLabelClassifier failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	if _, ok := c.ClassifyTaskContext(ctx, "text", 0.5); ok {
		t.Fatalf("expected classification to abort on context cancellation")
	}
}
