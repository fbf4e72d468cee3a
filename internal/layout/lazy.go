package layout

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/tansanrao/glm-ocr-swift/internal/config"
	"github.com/tansanrao/glm-ocr-swift/internal/layout/postprocess"
)

// WeightLoader produces a fully assembled Weights value, typically by
// reading a safetensors.Loader's tensor map and applying whatever
// checkpoint-specific assembly the caller needs (spec.md §1
// Out-of-scope: safetensors parsing and checkpoint layout are not
// specified for the layout model, unlike the recognizer's §4.5
// rewrite rules).
type WeightLoader func() (*Weights, error)

// LazyDetector defers weight loading until the first Detect call and
// single-flights concurrent callers onto that one load, so N
// goroutines racing the first page all block on a single load instead
// of each loading (or re-loading) weights independently. Grounded on
// SPEC_FULL.md's "single-flight-guarded lazy weight load" requirement
// for internal/layout; implemented with stdlib sync.Once rather than
// golang.org/x/sync/singleflight since sync.Once already gives exactly
// this guarantee (load once, every other caller blocks until it
// completes then observes the same result) and no pack repo actually
// exercises the singleflight package (see DESIGN.md).
type LazyDetector struct {
	load WeightLoader

	once     sync.Once
	detector *Detector
	err      error
}

// NewLazyDetector constructs a LazyDetector that calls load on first use.
func NewLazyDetector(load WeightLoader) *LazyDetector {
	return &LazyDetector{load: load}
}

// ensureLoaded single-flights the weight load across concurrent
// callers: the first caller runs load, every other concurrent caller
// blocks on sync.Once until it finishes, and all callers observe the
// same result (weights or error) afterward.
func (d *LazyDetector) ensureLoaded() error {
	d.once.Do(func() {
		w, err := d.load()
		if err != nil {
			d.err = fmt.Errorf("layout: lazy weight load: %w", err)
			return
		}
		d.detector = NewDetector(w)
	})
	return d.err
}

// Detect loads weights on first call (single-flighted across
// concurrent callers) and then delegates to the underlying Detector.
func (d *LazyDetector) Detect(ctx context.Context, page image.Image, cfg config.LayoutConfig, classifier LabelClassifier) ([]postprocess.Detection, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if err := d.ensureLoaded(); err != nil {
		return nil, nil, err
	}
	return d.detector.Detect(ctx, page, cfg, classifier)
}
