package prepare

import (
	"strings"
	"testing"

	"github.com/tansanrao/glm-ocr-swift/internal/tensor"
)

func TestBuildPromptSubstitutes(t *testing.T) {
	got := BuildPrompt("Recognize this page.")
	if !strings.Contains(got, "Recognize this page.") {
		t.Fatalf("expected prompt text embedded, got %q", got)
	}
	if !strings.HasPrefix(got, "[gMASK]<sop><|user|>") {
		t.Fatalf("expected fixed template prefix, got %q", got)
	}
}

func TestPatchifyGridAndDims(t *testing.T) {
	img := tensor.New(1, 3, 4, 4)
	for i := range img.Data {
		img.Data[i] = float32(i)
	}
	patches, grid, err := Patchify(img, 2, 2)
	if err != nil {
		t.Fatalf("Patchify() error: %v", err)
	}
	if grid != [3]int{1, 2, 2} {
		t.Fatalf("unexpected grid: %v", grid)
	}
	wantRows := 1 * 2 * 2
	wantCols := 3 * 2 * 2 * 2
	if patches.Shape[0] != wantRows || patches.Shape[1] != wantCols {
		t.Fatalf("unexpected patch matrix shape: %v", patches.Shape)
	}
}

func TestPatchifyTilesLastFrameWhenNotMultiple(t *testing.T) {
	img := tensor.New(3, 1, 2, 2) // N=3, temporalPatch=2 -> pads to 4
	patches, grid, err := Patchify(img, 2, 2)
	if err != nil {
		t.Fatalf("Patchify() error: %v", err)
	}
	if grid[0] != 2 {
		t.Fatalf("expected gridT=2 after padding, got %d", grid[0])
	}
	if patches.Shape[0] != 2 {
		t.Fatalf("expected 2 patch rows, got %d", patches.Shape[0])
	}
}

func TestExpandImagePlaceholderMinimumOne(t *testing.T) {
	tokens := []int{1, 99, 2}
	out := ExpandImagePlaceholder(tokens, 99, [3]int{1, 1, 1}, 2)
	count := 0
	for _, id := range out {
		if id == 99 {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected at least 1 placeholder copy, got %d", count)
	}
}

func TestExpandImagePlaceholderMultipleCopies(t *testing.T) {
	tokens := []int{99}
	out := ExpandImagePlaceholder(tokens, 99, [3]int{1, 4, 4}, 2)
	if len(out) != 4 {
		t.Fatalf("expected 4 copies (16/4), got %d", len(out))
	}
}
