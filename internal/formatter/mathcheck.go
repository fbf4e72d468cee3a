package formatter

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	treeblood "github.com/wyatt915/goldmark-treeblood"
)

var mathMarkdown = goldmark.New(goldmark.WithExtensions(treeblood.MathML()))

// checkFormula validates that body converts cleanly to MathML when
// wrapped in display-math delimiters, grounded on
// wudi-pdfkit/layout/latex.go's RenderLaTeX. It never alters the
// formatter's output; a conversion failure is surfaced as a warning by
// the caller instead.
func checkFormula(body string) (string, error) {
	var buf bytes.Buffer
	if err := mathMarkdown.Convert([]byte("$$"+body+"$$"), &buf); err != nil {
		return "", fmt.Errorf("formatter: formula conversion: %w", err)
	}
	return buf.String(), nil
}
