package decoder

import (
	"math"
	"testing"

	"github.com/tansanrao/glm-ocr-swift/internal/tensor"
)

func TestGenerateAnchorsMasksOutOfRangeCenters(t *testing.T) {
	shapes := [3][2]int{{2, 2}, {2, 2}, {2, 2}}
	anchors, valid, err := GenerateAnchors(shapes, 0.05)
	if err != nil {
		t.Fatalf("GenerateAnchors() error: %v", err)
	}
	if len(valid) != 12 {
		t.Fatalf("expected 12 anchors, got %d", len(valid))
	}
	for i, ok := range valid {
		if !ok {
			base := i * 4
			for k := 0; k < 4; k++ {
				if !math.IsInf(float64(anchors.Data[base+k]), 1) {
					t.Fatalf("expected sentinel +Inf for masked anchor %d", i)
				}
			}
		}
	}
}

func TestVoteOrderIdentityOnUpperTriangularSignal(t *testing.T) {
	n := 4
	logits := make([][]float32, n)
	for i := range logits {
		logits[i] = make([]float32, n)
		for j := range logits[i] {
			if j > i {
				logits[i][j] = 10 // strongly "i precedes j"
			} else {
				logits[i][j] = orderSentinel
			}
		}
	}
	order := VoteOrder(logits)
	for i, r := range order {
		if r != i {
			t.Fatalf("expected identity permutation, got %v at %d", order, i)
		}
	}
}

func TestOrderPointerLogitsMasksLowerTriangle(t *testing.T) {
	headSize := 2
	n := 3
	gp := make([]float32, n*2*headSize)
	for i := range gp {
		gp[i] = 1
	}
	logits := OrderPointerLogits(gp, n, headSize)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			if logits[i][j] != orderSentinel {
				t.Fatalf("expected sentinel at (%d,%d), got %v", i, j, logits[i][j])
			}
		}
	}
}

func TestRefineReferencePointsRoundTrip(t *testing.T) {
	ref, _ := tensor.FromData([]float32{0.5, 0.5, 0.1, 0.1}, 1, 1, 4)
	delta := tensor.New(1, 1, 4) // zero delta should leave reference points unchanged
	out, err := refineReferencePoints(ref, delta)
	if err != nil {
		t.Fatalf("refineReferencePoints() error: %v", err)
	}
	for i, v := range out.Data {
		if diff := v - ref.Data[i]; diff > 1e-4 || diff < -1e-4 {
			t.Fatalf("expected unchanged reference point at %d, got %v vs %v", i, v, ref.Data[i])
		}
	}
}
