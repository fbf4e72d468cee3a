package postprocess

// detection is a postprocessing-stage candidate that has passed
// threshold filtering and polygon extraction; later steps (NMS,
// image-size filter, containment filter, unclip) prune and mutate
// this list before final normalization.
type detection struct {
	label    string
	score    float64
	order    int
	boxPixel [4]float64 // x,y,w,h pixels
	polygon  []Point
}

// Detection is one finalized, emitted layout region (spec.md §4.3.7
// step 9-10).
type Detection struct {
	Index    int
	Label    string
	Task     string
	Score    float64
	BBox1000 [4]float64 // x1,y1,x2,y2 normalized to [0,1000]
	Polygon  []Point     // absolute pixel coordinates
}
