package pageload

import (
	"context"
	"image"
	"image/color"
	"testing"
)

type fakeRasterizer struct {
	pageCount int
	widthPt   float64
	heightPt  float64
	renders   []float64 // scales observed
}

func (f *fakeRasterizer) PageCount(ctx context.Context, pdfBytes []byte) (int, error) {
	return f.pageCount, nil
}

func (f *fakeRasterizer) PageSizePoints(ctx context.Context, pdfBytes []byte, pageIndex int) (float64, float64, error) {
	return f.widthPt, f.heightPt, nil
}

func (f *fakeRasterizer) RenderPage(ctx context.Context, pdfBytes []byte, pageIndex int, scale float64) (image.Image, error) {
	f.renders = append(f.renders, scale)
	w := int(f.widthPt * scale)
	h := int(f.heightPt * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 10, B: 10, A: 255})
		}
	}
	return img, nil
}

func TestLoadDecodedImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 5, 7))
	l := New(nil)
	pages, err := l.Load(context.Background(), InputDocument{Kind: KindDecodedImage, Image: img}, Options{})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(pages) != 1 || pages[0].Width != 5 || pages[0].Height != 7 {
		t.Fatalf("unexpected pages: %+v", pages)
	}
}

func TestLoadPDFAppliesLongSideCap(t *testing.T) {
	// A very large page (in points) at a high DPI should be capped by
	// MaxRenderedLongSide rather than by DPI scale.
	r := &fakeRasterizer{pageCount: 1, widthPt: 10000, heightPt: 500}
	l := New(r)
	opts := Options{DPI: 600, MaxRenderedLongSide: 3500}
	pages, err := l.Load(context.Background(), InputDocument{Kind: KindPDFBytes, PDFBytes: []byte{}}, opts)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}
	wantScale := 3500.0 / 10000.0
	if r.renders[0] != wantScale {
		t.Fatalf("expected capped scale %v, got %v", wantScale, r.renders[0])
	}
}

func TestLoadPDFUsesDPIScaleWhenBelowCap(t *testing.T) {
	r := &fakeRasterizer{pageCount: 1, widthPt: 612, heightPt: 792} // US letter
	l := New(r)
	opts := Options{DPI: 200, MaxRenderedLongSide: 3500}
	if _, err := l.Load(context.Background(), InputDocument{Kind: KindPDFBytes, PDFBytes: []byte{}}, opts); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	wantScale := 200.0 / 72.0
	if r.renders[0] != wantScale {
		t.Fatalf("expected dpi-derived scale %v, got %v", wantScale, r.renders[0])
	}
}

func TestLoadPDFRespectsEffectiveMaxPages(t *testing.T) {
	r := &fakeRasterizer{pageCount: 10, widthPt: 612, heightPt: 792}
	l := New(r)
	max := uint32(3)
	opts := Options{DPI: 200, MaxRenderedLongSide: 3500, EffectiveMaxPages: &max}
	pages, err := l.Load(context.Background(), InputDocument{Kind: KindPDFBytes, PDFBytes: []byte{}}, opts)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}
}

func TestLoadPDFZeroPagesFails(t *testing.T) {
	r := &fakeRasterizer{pageCount: 0, widthPt: 612, heightPt: 792}
	l := New(r)
	if _, err := l.Load(context.Background(), InputDocument{Kind: KindPDFBytes, PDFBytes: []byte{}}, Options{}); err == nil {
		t.Fatalf("expected error for zero-page document")
	}
}

func TestLoadPDFWithoutRasterizerFails(t *testing.T) {
	l := New(nil)
	if _, err := l.Load(context.Background(), InputDocument{Kind: KindPDFBytes, PDFBytes: []byte{}}, Options{}); err == nil {
		t.Fatalf("expected error when no rasterizer is configured")
	}
}
