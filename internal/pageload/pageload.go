// Package pageload turns an InputDocument into an ordered list of page
// bitmaps (spec.md §4.2). PDF rasterization itself is an injected,
// opaque "pages-from-bytes" contract (spec.md §1 Out-of-scope) so this
// package is pure orchestration, testable with a fake rasterizer —
// the same interface-first composition the teacher's ir.Pipeline uses
// for raw.Parser/decoded.Decoder (spec.md §9 Design Note "Cyclic graph
// / pipeline wiring").
package pageload

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/tansanrao/glm-ocr-swift/internal/imageprep"
)

// Page is an immutable RGB bitmap owned by the orchestrator for the
// duration of one parse (spec.md §3).
type Page struct {
	Width  int
	Height int
	Image  *image.RGBA
}

// InputKind discriminates InputDocument variants (spec.md §6).
type InputKind int

const (
	KindDecodedImage InputKind = iota
	KindImageBytes
	KindPDFBytes
)

// InputDocument is a closed set of input variants.
type InputDocument struct {
	Kind       InputKind
	Image      image.Image
	ImageBytes []byte
	PDFBytes   []byte
}

// PDFRasterizer is the opaque PDF rendering contract. PageSizePoints reports
// a page's native size in PDF points (1/72in) prior to rendering, so
// the loader can compute the target render scale per spec.md §4.2
// without the rasterizer needing to know about DPI/long-side caps
// itself.
type PDFRasterizer interface {
	PageCount(ctx context.Context, pdfBytes []byte) (int, error)
	PageSizePoints(ctx context.Context, pdfBytes []byte, pageIndex int) (widthPt, heightPt float64, err error)
	RenderPage(ctx context.Context, pdfBytes []byte, pageIndex int, scale float64) (image.Image, error)
}

// Options controls PDF rasterization (spec.md §4.2, §6).
type Options struct {
	DPI                 int
	MaxRenderedLongSide int
	EffectiveMaxPages   *uint32 // nil => no cap
}

// Loader turns an InputDocument into pages.
type Loader struct {
	Rasterizer PDFRasterizer
}

// New constructs a Loader. rasterizer may be nil if only non-PDF inputs
// will be loaded.
func New(rasterizer PDFRasterizer) *Loader {
	return &Loader{Rasterizer: rasterizer}
}

// Load dispatches on the input kind and returns ordered pages.
func (l *Loader) Load(ctx context.Context, in InputDocument, opts Options) ([]Page, error) {
	switch in.Kind {
	case KindDecodedImage:
		return l.loadSingleImage(in.Image)
	case KindImageBytes:
		img, _, err := image.Decode(bytes.NewReader(in.ImageBytes))
		if err != nil {
			return nil, fmt.Errorf("pageload: decode image bytes: %w", err)
		}
		return l.loadSingleImage(img)
	case KindPDFBytes:
		return l.loadPDF(ctx, in.PDFBytes, opts)
	default:
		return nil, fmt.Errorf("pageload: unknown input kind %d", in.Kind)
	}
}

func (l *Loader) loadSingleImage(img image.Image) ([]Page, error) {
	if img == nil {
		return nil, fmt.Errorf("pageload: nil image input")
	}
	rgba := imageprep.WhiteBackground(img)
	b := rgba.Bounds()
	return []Page{{Width: b.Dx(), Height: b.Dy(), Image: rgba}}, nil
}

func (l *Loader) loadPDF(ctx context.Context, pdfBytes []byte, opts Options) ([]Page, error) {
	if l.Rasterizer == nil {
		return nil, fmt.Errorf("pageload: no PDF rasterizer configured")
	}
	pageCount, err := l.Rasterizer.PageCount(ctx, pdfBytes)
	if err != nil {
		return nil, fmt.Errorf("pageload: page count: %w", err)
	}
	requested := pageCount
	if opts.EffectiveMaxPages != nil && int(*opts.EffectiveMaxPages) < requested {
		requested = int(*opts.EffectiveMaxPages)
	}
	if requested <= 0 {
		return nil, fmt.Errorf("pageload: invalid configuration: requested page count is zero")
	}

	dpi := opts.DPI
	if dpi <= 0 {
		dpi = 200
	}
	longSideCap := opts.MaxRenderedLongSide
	if longSideCap <= 0 {
		longSideCap = 3500
	}

	pages := make([]Page, 0, requested)
	for i := 0; i < requested; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		wPt, hPt, err := l.Rasterizer.PageSizePoints(ctx, pdfBytes, i)
		if err != nil {
			return nil, fmt.Errorf("pageload: page %d size: %w", i, err)
		}
		longSidePoints := wPt
		if hPt > longSidePoints {
			longSidePoints = hPt
		}
		scale := float64(dpi) / 72
		if longSidePoints > 0 {
			capScale := float64(longSideCap) / longSidePoints
			if capScale < scale {
				scale = capScale
			}
		}
		img, err := l.Rasterizer.RenderPage(ctx, pdfBytes, i, scale)
		if err != nil {
			return nil, fmt.Errorf("pageload: render page %d: %w", i, err)
		}
		rgba := imageprep.WhiteBackground(img)
		b := rgba.Bounds()
		pages = append(pages, Page{Width: b.Dx(), Height: b.Dy(), Image: rgba})
	}
	return pages, nil
}
