package pipeline

import (
	"context"
	"image"

	"github.com/tansanrao/glm-ocr-swift/internal/config"
	"github.com/tansanrao/glm-ocr-swift/internal/layout"
	"github.com/tansanrao/glm-ocr-swift/internal/layout/postprocess"
	"github.com/tansanrao/glm-ocr-swift/internal/pageload"
	"github.com/tansanrao/glm-ocr-swift/internal/region"
)

// RegionRecord is the mutable carrier spec.md §3 describes: a
// postprocessed layout region plus its recognized content, filled in
// after recognition (empty on failure).
type RegionRecord struct {
	Index       int
	NativeLabel string
	Task        string
	BBox1000    [4]float64
	Polygon     []region.Point
	Content     string
}

// PageResult holds one page's ordered region records.
type PageResult struct {
	Regions []RegionRecord
}

// DiagnosticBundle carries warnings, per-stage timings, and metadata
// (spec.md §3).
type DiagnosticBundle struct {
	Warnings   []string
	TimingsMs  map[string]float64
	Metadata   map[string]string
}

// Result is the orchestrator's output document.
type Result struct {
	Pages       []PageResult
	Markdown    string
	Diagnostics DiagnosticBundle
}

// ParseOptions controls one Parse call (spec.md §6).
type ParseOptions struct {
	IncludeMarkdown    bool
	IncludeDiagnostics bool
	MaxPages           *uint32
}

// PageLoader turns an input document into ordered page bitmaps.
// Satisfied by internal/pageload.Loader.
type PageLoader interface {
	Load(ctx context.Context, in pageload.InputDocument, opts pageload.Options) ([]pageload.Page, error)
}

// Detector runs layout detection over a single page. Satisfied by
// internal/layout.Detector.
type Detector interface {
	Detect(ctx context.Context, page image.Image, cfg config.LayoutConfig, classifier layout.LabelClassifier) ([]postprocess.Detection, []string, error)
}

// Recognizer runs the recognizer over a single cropped region image.
// Satisfied by internal/recognizer.Recognizer.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image, prompt string, opts config.RecognitionOptions) (string, error)
}

// Cropper extracts a region's pixels from a page. Satisfied by
// internal/region.Crop.
type Cropper interface {
	Crop(page image.Image, bbox1000 [4]float64, polygon []region.Point, pageWidth, pageHeight int) (*image.RGBA, error)
}

// Formatter assembles the final Markdown document from recognized page
// regions, and returns the per-page regions as formatting left them:
// labels normalized into rendered content, formula_number/word-break
// merges collapsed, and indices renumbered per page in pipeline order
// (spec.md §4.7 "Finally re-number regions per page in pipeline
// order"). Satisfied by internal/formatter's top-level formatter.
type Formatter interface {
	Format(pages []PageResult) (markdown string, pagesOut []PageResult, warnings []string, metadata map[string]string)
}

// cropperFunc adapts region.Crop's free function to the Cropper
// interface, mirroring internal/layout's labelClassifierFunc adapter
// pattern.
type cropperFunc func(image.Image, [4]float64, []region.Point, int, int) (*image.RGBA, error)

func (f cropperFunc) Crop(page image.Image, bbox1000 [4]float64, polygon []region.Point, pageWidth, pageHeight int) (*image.RGBA, error) {
	return f(page, bbox1000, polygon, pageWidth, pageHeight)
}

// DefaultCropper wraps internal/region.Crop as a Cropper.
func DefaultCropper() Cropper {
	return cropperFunc(region.Crop)
}

// toRegionPoints converts a layout detection's polygon (postprocess.Point)
// into the region package's identically-shaped Point, since the two
// packages intentionally define separate flat types rather than
// sharing one across package boundaries.
func toRegionPoints(poly []postprocess.Point) []region.Point {
	if poly == nil {
		return nil
	}
	out := make([]region.Point, len(poly))
	for i, p := range poly {
		out[i] = region.Point{X: p.X, Y: p.Y}
	}
	return out
}
