package formatter

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var plainMarkdown = goldmark.New()

// checkMarkdown walks the assembled page Markdown's AST once, counting
// headings and tables, grounded on wudi-pdfkit/layout/markdown.go's
// walkMarkdown. The counts feed Diagnostics.Metadata; this pass never
// alters the rendered Markdown.
func checkMarkdown(source string) (headingCount, tableCount int, err error) {
	src := []byte(source)
	doc := plainMarkdown.Parser().Parse(text.NewReader(src))
	walkCount(doc, src, &headingCount, &tableCount)
	return headingCount, tableCount, nil
}

func walkCount(n ast.Node, source []byte, headingCount, tableCount *int) {
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch child.(type) {
		case *ast.Heading:
			*headingCount++
		}
		if isTableLike(child, source) {
			*tableCount++
		}
		walkCount(child, source, headingCount, tableCount)
	}
}

// isTableLike reports an HTML block whose raw segment opens with
// "<table" — goldmark's core parser has no markdown-table extension
// wired in, so embedded tables arrive as raw HTML blocks.
func isTableLike(n ast.Node, source []byte) bool {
	raw, ok := n.(*ast.HTMLBlock)
	if !ok {
		return false
	}
	lines := raw.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		if strings.HasPrefix(strings.TrimSpace(string(seg.Value(source))), "<table") {
			return true
		}
	}
	return false
}
