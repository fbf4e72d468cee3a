package postprocess

import "testing"

func TestConvexHullSquare(t *testing.T) {
	pts := []Point{{0, 0}, {0, 5}, {5, 5}, {5, 0}, {2, 2}} // interior point should be dropped
	hull := convexHull(pts)
	if len(hull) != 4 {
		t.Fatalf("expected 4-point hull, got %d: %v", len(hull), hull)
	}
}

func TestLargestComponentBFSPicksBiggest(t *testing.T) {
	// 4x4 grid: a 1-pixel blob at (0,0) and a 2x2 blob at (2,2)-(3,3).
	w, h := 4, 4
	binary := make([]bool, w*h)
	binary[0] = true
	binary[2*w+2] = true
	binary[2*w+3] = true
	binary[3*w+2] = true
	binary[3*w+3] = true
	comp := largestComponentBFS(binary, w, h)
	if len(comp) != 4 {
		t.Fatalf("expected largest component size 4, got %d", len(comp))
	}
}

func TestExtractPolygonFallsBackToRectangleOnEmptyMask(t *testing.T) {
	c := &candidate{
		cx: 0.5, cy: 0.5, w: 0.2, h: 0.2,
		mh: 4, mw: 4,
		mask:     make([]float32, 16), // all-zero -> sigmoid(0)=0.5, not > threshold
		boxPixel: [4]float64{10, 10, 20, 20},
	}
	poly := extractPolygon(c, 0.9)
	if len(poly) != 4 {
		t.Fatalf("expected rectangle fallback with 4 points, got %d", len(poly))
	}
}
