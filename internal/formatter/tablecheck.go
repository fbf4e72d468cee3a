package formatter

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// checkTableHTML confirms content parses as well-formed HTML and
// contains a <table> element, grounded on wudi-pdfkit/layout/html.go's
// tokenizer-walk style (RenderHTML+walkHTML). It never alters the
// formatter's output; a failure is surfaced as a warning by the
// caller, which falls back to emitting the content as a fenced code
// block.
func checkTableHTML(content string) error {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("formatter: html parse: %w", err)
	}
	if !containsTable(doc) {
		return fmt.Errorf("formatter: no <table> element found")
	}
	return nil
}

func containsTable(n *html.Node) bool {
	if n.Type == html.ElementNode && n.DataAtom == atom.Table {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if containsTable(c) {
			return true
		}
	}
	return false
}
