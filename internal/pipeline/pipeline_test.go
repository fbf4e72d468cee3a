package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/tansanrao/glm-ocr-swift/internal/config"
	"github.com/tansanrao/glm-ocr-swift/internal/layout"
	"github.com/tansanrao/glm-ocr-swift/internal/layout/postprocess"
	"github.com/tansanrao/glm-ocr-swift/internal/pageload"
	"github.com/tansanrao/glm-ocr-swift/internal/region"
)

type fakePageLoader struct {
	pages []pageload.Page
	err   error
}

func (f *fakePageLoader) Load(ctx context.Context, in pageload.InputDocument, opts pageload.Options) ([]pageload.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pages, nil
}

type fakeDetector struct {
	detections []postprocess.Detection
	warnings   []string
	err        error
}

func (f *fakeDetector) Detect(ctx context.Context, page image.Image, cfg config.LayoutConfig, classifier layout.LabelClassifier) ([]postprocess.Detection, []string, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.detections, f.warnings, nil
}

type fakeRecognizer struct {
	mu       chan struct{}
	failFor  string
	response string
}

func (f *fakeRecognizer) Recognize(ctx context.Context, img image.Image, prompt string, opts config.RecognitionOptions) (string, error) {
	if f.failFor != "" && prompt == f.failFor {
		return "", errors.New("recognition exploded")
	}
	if f.response != "" {
		return f.response, nil
	}
	return "recognized:" + prompt, nil
}

type fakeCropper struct {
	failAt int // regionIdx to fail, -1 for never
	calls  int
}

func (f *fakeCropper) Crop(page image.Image, bbox1000 [4]float64, polygon []region.Point, pageWidth, pageHeight int) (*image.RGBA, error) {
	idx := f.calls
	f.calls++
	if f.failAt >= 0 && idx == f.failAt {
		return nil, errors.New("crop exploded")
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

// fakeFormatter exercises the Formatter plumbing without pulling in
// internal/formatter (which imports this package, so importing it back
// here would cycle): it drops empty-content regions and renumbers the
// survivors, mirroring spec.md §4.7's "re-number regions per page in
// pipeline order" without reproducing the real label/merge rules.
type fakeFormatter struct{}

func (fakeFormatter) Format(pages []PageResult) (string, []PageResult, []string, map[string]string) {
	out := make([]PageResult, len(pages))
	for i, page := range pages {
		kept := make([]RegionRecord, 0, len(page.Regions))
		for _, r := range page.Regions {
			if r.Content == "" {
				continue
			}
			r.Content = "fmt:" + r.Content
			kept = append(kept, r)
		}
		for idx := range kept {
			kept[idx].Index = idx
		}
		out[i] = PageResult{Regions: kept}
	}
	return "formatted", out, nil, nil
}

func solidPage(w, h int) pageload.Page {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	return pageload.Page{Width: w, Height: h, Image: img}
}

func baseConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.MaxConcurrentRecognitions = 2
	return cfg
}

func TestParseNoLayoutSinglePage(t *testing.T) {
	cfg := baseConfig()
	cfg.EnableLayout = false
	o := New(
		&fakePageLoader{pages: []pageload.Page{solidPage(10, 10)}},
		&fakeDetector{},
		&fakeRecognizer{},
		nil,
		nil,
		cfg,
	)
	result, err := o.Parse(context.Background(), pageload.InputDocument{Kind: pageload.KindDecodedImage, Image: solidPage(10, 10).Image}, ParseOptions{IncludeDiagnostics: true})
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(result.Pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(result.Pages))
	}
	if len(result.Pages[0].Regions) != 1 {
		t.Fatalf("expected 1 region, got %d", len(result.Pages[0].Regions))
	}
	if result.Pages[0].Regions[0].Content == "" {
		t.Fatalf("expected non-empty recognized content")
	}
	if _, ok := result.Diagnostics.TimingsMs["ocr_inference"]; !ok {
		t.Fatalf("expected ocr_inference timing key")
	}
	if _, ok := result.Diagnostics.TimingsMs["layout_inference"]; ok {
		t.Fatalf("layout keys must be omitted when layout is disabled")
	}
	if result.Diagnostics.Metadata["noLayoutPromptHash"] == "" {
		t.Fatalf("expected non-empty noLayoutPromptHash metadata, got %v", result.Diagnostics.Metadata)
	}
}

func TestParseLayoutEnabledRecognizesByTaskAndSkipsSkipRegions(t *testing.T) {
	cfg := baseConfig()
	detections := []postprocess.Detection{
		{Index: 0, Label: "doc_title", Task: "text", BBox1000: [4]float64{0, 0, 500, 100}},
		{Index: 1, Label: "table", Task: "table", BBox1000: [4]float64{0, 100, 500, 300}},
		{Index: 2, Label: "seal", Task: "skip", BBox1000: [4]float64{0, 300, 100, 400}},
	}
	o := New(
		&fakePageLoader{pages: []pageload.Page{solidPage(20, 20)}},
		&fakeDetector{detections: detections},
		&fakeRecognizer{},
		&fakeCropper{failAt: -1},
		nil,
		cfg,
	)
	result, err := o.Parse(context.Background(), pageload.InputDocument{Kind: pageload.KindDecodedImage, Image: solidPage(20, 20).Image}, ParseOptions{IncludeDiagnostics: true})
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	regions := result.Pages[0].Regions
	if len(regions) != 3 {
		t.Fatalf("expected 3 regions, got %d", len(regions))
	}
	if regions[0].Content == "" || regions[1].Content == "" {
		t.Fatalf("expected text/table regions to be recognized")
	}
	if regions[2].Content != "" {
		t.Fatalf("skip region must not be recognized, got %q", regions[2].Content)
	}
	if regions[1].Content != "recognized:"+cfg.Prompts.Table {
		t.Fatalf("table region should use the table prompt, got %q", regions[1].Content)
	}
}

func TestParseRegionFailuresProduceWarningsNotAbort(t *testing.T) {
	cfg := baseConfig()
	detections := []postprocess.Detection{
		{Index: 0, Label: "paragraph_title", Task: "text", BBox1000: [4]float64{0, 0, 500, 100}},
		{Index: 1, Label: "text", Task: "text", BBox1000: [4]float64{0, 100, 500, 200}},
	}
	o := New(
		&fakePageLoader{pages: []pageload.Page{solidPage(20, 20)}},
		&fakeDetector{detections: detections},
		&fakeRecognizer{failFor: cfg.Prompts.Text},
		&fakeCropper{failAt: 1},
		nil,
		cfg,
	)
	result, err := o.Parse(context.Background(), pageload.InputDocument{Kind: pageload.KindDecodedImage, Image: solidPage(20, 20).Image}, ParseOptions{IncludeDiagnostics: true})
	if err != nil {
		t.Fatalf("Parse() should not error on per-region failures: %v", err)
	}
	if len(result.Diagnostics.Warnings) != 2 {
		t.Fatalf("expected 2 warnings (crop + recognition failure), got %d: %v", len(result.Diagnostics.Warnings), result.Diagnostics.Warnings)
	}
	for _, r := range result.Pages[0].Regions {
		if r.Content != "" {
			t.Fatalf("expected empty content on failed regions, got %q", r.Content)
		}
	}
}

func TestParseResultPagesReflectFormatterRenumbering(t *testing.T) {
	cfg := baseConfig()
	detections := []postprocess.Detection{
		{Index: 0, Label: "paragraph_title", Task: "text", BBox1000: [4]float64{0, 0, 500, 100}},
		{Index: 1, Label: "seal", Task: "skip", BBox1000: [4]float64{0, 100, 100, 200}},
		{Index: 2, Label: "text", Task: "text", BBox1000: [4]float64{0, 200, 500, 300}},
	}
	o := New(
		&fakePageLoader{pages: []pageload.Page{solidPage(20, 20)}},
		&fakeDetector{detections: detections},
		&fakeRecognizer{},
		&fakeCropper{failAt: -1},
		fakeFormatter{},
		cfg,
	)
	result, err := o.Parse(context.Background(), pageload.InputDocument{Kind: pageload.KindDecodedImage, Image: solidPage(20, 20).Image}, ParseOptions{IncludeMarkdown: true, IncludeDiagnostics: true})
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if result.Markdown != "formatted" {
		t.Fatalf("expected Result.Markdown to come from the Formatter, got %q", result.Markdown)
	}
	regions := result.Pages[0].Regions
	// The skip region (empty content) is dropped by fakeFormatter, so
	// the two recognized regions must be renumbered 0 and 1, not keep
	// their original orchestrator-assigned indices 0 and 2.
	if len(regions) != 2 {
		t.Fatalf("expected Result.Pages to reflect the formatter's renumbered regions, got %d: %+v", len(regions), regions)
	}
	if regions[0].Index != 0 || regions[1].Index != 1 {
		t.Fatalf("expected renumbered indices 0,1, got %d,%d", regions[0].Index, regions[1].Index)
	}
	if !strings.HasPrefix(regions[0].Content, "fmt:") || !strings.HasPrefix(regions[1].Content, "fmt:") {
		t.Fatalf("expected formatter-rewritten content, got %+v", regions)
	}
}

func TestParseRespectsCancellationBeforePageLoop(t *testing.T) {
	cfg := baseConfig()
	o := New(
		&fakePageLoader{pages: []pageload.Page{solidPage(10, 10), solidPage(10, 10)}},
		&fakeDetector{},
		&fakeRecognizer{},
		nil,
		nil,
		cfg,
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Parse(ctx, pageload.InputDocument{Kind: pageload.KindDecodedImage, Image: solidPage(10, 10).Image}, ParseOptions{})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestParseFailsFastOnInvalidConfiguration(t *testing.T) {
	cfg := baseConfig()
	cfg.PDFDPI = 0
	o := New(&fakePageLoader{}, &fakeDetector{}, &fakeRecognizer{}, nil, nil, cfg)
	_, err := o.Parse(context.Background(), pageload.InputDocument{}, ParseOptions{})
	if err == nil {
		t.Fatalf("expected invalid configuration error")
	}
}

func TestParsePropagatesLayoutDetectionFailure(t *testing.T) {
	cfg := baseConfig()
	o := New(
		&fakePageLoader{pages: []pageload.Page{solidPage(10, 10)}},
		&fakeDetector{err: errors.New("model not loaded")},
		&fakeRecognizer{},
		nil,
		nil,
		cfg,
	)
	_, err := o.Parse(context.Background(), pageload.InputDocument{Kind: pageload.KindDecodedImage, Image: solidPage(10, 10).Image}, ParseOptions{})
	if err == nil {
		t.Fatalf("expected layout detection failure to propagate")
	}
}

func TestAsyncLimiterBoundsConcurrency(t *testing.T) {
	l := NewAsyncLimiter(2)
	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	done := make(chan struct{})
	go func() {
		if err := l.Acquire(ctx); err != nil {
			t.Errorf("Acquire: %v", err)
		}
		close(done)
	}()
	select {
	case <-done:
		t.Fatalf("third Acquire should block while 2 slots are held")
	default:
	}
	l.Release()
	<-done
}

func TestAsyncLimiterAcquireRespectsCancellation(t *testing.T) {
	l := NewAsyncLimiter(1)
	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	cctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Acquire(cctx); err == nil {
		t.Fatalf("expected cancellation error when no slot is free")
	}
}
