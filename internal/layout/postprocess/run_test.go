package postprocess

import (
	"testing"

	"github.com/tansanrao/glm-ocr-swift/internal/config"
)

func buildInput() Input {
	mh, mw := 4, 4
	numClasses := 2
	// Query 0 -> class 0 dominant; query 1 -> class 1 dominant.
	classLogits := []float32{5, -5, -5, 5}
	refPoints := []float32{
		0.3, 0.3, 0.3, 0.3,
		0.7, 0.7, 0.3, 0.3,
	}
	mask := make([]float32, 2*mh*mw)
	for i := range mask {
		mask[i] = 5 // sigmoid(5) > 0.5 everywhere, yields a filled box region
	}
	return Input{
		ClassLogits:     classLogits,
		ReferencePoints: refPoints,
		MaskLogits:      mask,
		Order:           []int{0, 1},
		NumQueries:      2,
		NumClasses:      numClasses,
		Mh:              mh,
		Mw:              mw,
		TargetWidth:     100,
		TargetHeight:    100,
		ID2Label:        map[int]string{0: "text", 1: "table"},
	}
}

func TestRunProducesValidBBoxes(t *testing.T) {
	cfg := config.DefaultConfig().Layout
	dets, _ := Run(buildInput(), cfg, nil)
	if len(dets) == 0 {
		t.Fatalf("expected at least one detection")
	}
	for _, d := range dets {
		if d.BBox1000[0] >= d.BBox1000[2] || d.BBox1000[1] >= d.BBox1000[3] {
			t.Fatalf("expected x1<x2, y1<y2, got %v", d.BBox1000)
		}
		for _, v := range d.BBox1000 {
			if v < 0 || v > 1000 {
				t.Fatalf("bbox coordinate out of [0,1000]: %v", d.BBox1000)
			}
		}
	}
}

func TestRunIndicesStrictlyIncrease(t *testing.T) {
	cfg := config.DefaultConfig().Layout
	dets, _ := Run(buildInput(), cfg, nil)
	for i, d := range dets {
		if d.Index != i {
			t.Fatalf("expected index %d to equal position, got %d", i, d.Index)
		}
	}
}

func TestMapLabelToTaskDefaultsToText(t *testing.T) {
	task := mapLabelToTask("unknown_native_label", 0, map[string]string{}, nil)
	if task != "text" {
		t.Fatalf("expected default task 'text', got %q", task)
	}
}

func TestNMSMonotonicityKeepsAtLeastAsMany(t *testing.T) {
	dets := []detection{
		{label: "text", score: 0.9, boxPixel: [4]float64{0, 0, 10, 10}},
		{label: "text", score: 0.8, boxPixel: [4]float64{1, 1, 10, 10}},
	}
	low := nms(dets, 0.1, 0.98)
	high := nms(dets, 0.9, 0.98)
	if len(high) < len(low) {
		t.Fatalf("raising same-class IoU threshold should never remove more detections: low=%d high=%d", len(low), len(high))
	}
}

func TestInclusiveIoUIdenticalBoxes(t *testing.T) {
	a := [4]float64{0, 0, 9, 9}
	if v := inclusiveIoU(a, a); v < 0.999 {
		t.Fatalf("expected IoU ~1 for identical boxes, got %v", v)
	}
}
