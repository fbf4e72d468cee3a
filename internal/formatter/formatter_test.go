package formatter

import (
	"strings"
	"testing"

	"github.com/tansanrao/glm-ocr-swift/internal/pipeline"
)

func mkRegion(index int, label, content string, left float64) pipeline.RegionRecord {
	return pipeline.RegionRecord{Index: index, NativeLabel: label, Content: content, BBox1000: [4]float64{left, 0, left + 100, 50}}
}

func TestFormatHeadingsAndParagraphTitle(t *testing.T) {
	f := New()
	pages := []Page{{Regions: []Region{
		mkRegion(0, "doc_title", "Annual Report", 0),
		mkRegion(1, "paragraph_title", "Summary", 0),
		mkRegion(2, "text", "Body text here.", 0),
	}}}
	md, _, warnings, _ := f.Format(pages)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if !strings.Contains(md, "# Annual Report") {
		t.Fatalf("expected doc_title heading, got %q", md)
	}
	if !strings.Contains(md, "## Summary") {
		t.Fatalf("expected paragraph_title heading, got %q", md)
	}
}

func TestFormatFormulaWrapAndMergeWithFormulaNumber(t *testing.T) {
	f := New()
	pages := []Page{{Regions: []Region{
		mkRegion(0, "formula", "x^2 + y^2 = z^2", 0),
		mkRegion(1, "formula_number", "(1)", 0),
	}}}
	md, _, warnings, _ := f.Format(pages)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if !strings.Contains(md, `\tag{(1)}`) {
		t.Fatalf("expected formula_number merged via \\tag{}, got %q", md)
	}
	if strings.Count(md, "$$") != 2 {
		t.Fatalf("expected exactly one $$...$$ pair, got %q", md)
	}
}

func TestFormatMalformedFormulaDoesNotPanic(t *testing.T) {
	f := New()
	pages := []Page{{Regions: []Region{
		mkRegion(0, "formula", `\frac{1`, 0),
	}}}
	_, _, warnings, _ := f.Format(pages)
	_ = warnings // goldmark+treeblood is lenient about malformed LaTeX; absence of a warning is acceptable too.
}

func TestFormatTableWellFormedHTMLEmbedsVerbatim(t *testing.T) {
	f := New()
	html := "<table><tr><td>a</td></tr></table>"
	pages := []Page{{Regions: []Region{mkRegion(0, "table", html, 0)}}}
	md, _, warnings, _ := f.Format(pages)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if !strings.Contains(md, "<table>") {
		t.Fatalf("expected verbatim HTML table, got %q", md)
	}
}

func TestFormatMalformedTableHTMLFallsBackToCodeBlock(t *testing.T) {
	f := New()
	// Starts with "<table" (satisfies the table-HTML sniff) but the tag
	// name is actually "tablefoo", so the parsed document has no real
	// <table> element — golang.org/x/net/html.Parse itself almost never
	// errors on malformed markup, so the failure this exercises comes
	// from checkTableHTML's own "no <table> element found" check.
	broken := "<tablefoo>bar</tablefoo>"
	pages := []Page{{Regions: []Region{mkRegion(0, "table", broken, 0)}}}
	md, _, warnings, _ := f.Format(pages)
	if len(warnings) == 0 {
		t.Fatalf("expected a table validation warning")
	}
	if !strings.Contains(md, "```") {
		t.Fatalf("expected fenced code block fallback, got %q", md)
	}
}

func TestFormatImagePlaceholderEmittedWhenContentEmpty(t *testing.T) {
	f := New()
	pages := []Page{{Regions: []Region{mkRegion(0, "image", "", 10)}}}
	md, _, _, _ := f.Format(pages)
	if !strings.Contains(md, "![](page=0,bbox=[10") {
		t.Fatalf("expected image placeholder, got %q", md)
	}
}

func TestFormatWordBreakMerge(t *testing.T) {
	f := New()
	pages := []Page{{Regions: []Region{
		mkRegion(0, "text", "This is a hyphen-", 0),
		mkRegion(1, "text", "ated word.", 0),
	}}}
	md, _, _, _ := f.Format(pages)
	if !strings.Contains(md, "hyphenated word.") {
		t.Fatalf("expected merged hyphenated word, got %q", md)
	}
}

func TestFormatBulletAlignment(t *testing.T) {
	f := New()
	pages := []Page{{Regions: []Region{
		mkRegion(0, "text", "• first item", 100),
		mkRegion(1, "text", "middle item, no bullet", 102),
		mkRegion(2, "text", "• third item", 101),
	}}}
	md, _, _, _ := f.Format(pages)
	if strings.Count(md, "- ") < 3 {
		t.Fatalf("expected all three lines bulleted, got %q", md)
	}
}

func TestFormatEmptyImageRegionsDoNotNeedBullet(t *testing.T) {
	f := New()
	pages := []Page{{Regions: []Region{
		mkRegion(0, "seal", "", 0),
	}}}
	md, _, _, _ := f.Format(pages)
	if strings.TrimSpace(md) != "" {
		t.Fatalf("expected empty rendering for empty unknown-label region, got %q", md)
	}
}

func TestFormatMetadataCountsHeadings(t *testing.T) {
	f := New()
	pages := []Page{{Regions: []Region{
		mkRegion(0, "doc_title", "Title", 0),
		mkRegion(1, "paragraph_title", "Section", 0),
	}}}
	_, _, _, metadata := f.Format(pages)
	if metadata["page0.headingCount"] != "2" {
		t.Fatalf("expected headingCount=2, got %v", metadata)
	}
}

func TestCleanContentCollapsesDotRuns(t *testing.T) {
	got := cleanContent("Table of Contents..........5")
	if strings.Contains(got, "..........") {
		t.Fatalf("expected collapsed dot run, got %q", got)
	}
	if !strings.Contains(got, "...") {
		t.Fatalf("expected a canonical 3-dot run, got %q", got)
	}
}
