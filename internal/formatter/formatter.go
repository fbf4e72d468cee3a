// Package formatter assembles the recognized per-region content of a
// document into a single deterministic Markdown rendering (spec.md
// §4.7), plus two validation passes over formula and table content
// that never change the emitted Markdown on success. On failure both
// append a warning; a failed table is additionally emitted as a fenced
// code block (SPEC_FULL.md "MODULE: Formatter").
package formatter

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/tansanrao/glm-ocr-swift/internal/pipeline"
	"github.com/tansanrao/glm-ocr-swift/internal/region"
)

// Region is an alias for the pipeline's region carrier, so this
// package's exported signatures read in its own vocabulary without
// duplicating the type.
type Region = pipeline.RegionRecord

// Page is an alias for the pipeline's per-page region list.
type Page = pipeline.PageResult

// Formatter renders pages of recognized regions into Markdown,
// satisfying internal/pipeline.Formatter.
type Formatter struct{}

// New constructs a Formatter. It holds no state; every call is pure
// given its inputs.
func New() *Formatter { return &Formatter{} }

// Format assembles the full document Markdown, collecting warnings and
// per-page metadata from the validation passes (mathcheck, tablecheck,
// markdowncheck) along the way, and returns each page's regions as
// formatting left them (merged and renumbered per spec.md §4.7).
func (f *Formatter) Format(pages []Page) (markdown string, pagesOut []Page, warnings []string, metadata map[string]string) {
	metadata = map[string]string{}
	pagesOut = make([]Page, len(pages))
	var sb strings.Builder
	for pageIdx, page := range pages {
		pageMarkdown, pageRegions, pageWarnings := f.formatPage(pageIdx, page)
		pagesOut[pageIdx] = Page{Regions: pageRegions}
		warnings = append(warnings, pageWarnings...)
		if pageIdx > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(pageMarkdown)

		headingCount, tableCount, err := checkMarkdown(pageMarkdown)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("page[%d] markdown metadata pass failed: %v", pageIdx, err))
			continue
		}
		metadata[fmt.Sprintf("page%d.headingCount", pageIdx)] = fmt.Sprintf("%d", headingCount)
		metadata[fmt.Sprintf("page%d.tableCount", pageIdx)] = fmt.Sprintf("%d", tableCount)
	}
	return sb.String(), pagesOut, warnings, metadata
}

// regionMeta carries the non-content fields of the region a rendered
// entry descends from, so a merged/renumbered entry can still report a
// native label, task, bbox, and polygon.
type regionMeta struct {
	nativeLabel string
	task        string
	bbox        [4]float64
	polygon     []region.Point
}

// formatPage applies label normalization, content cleanup, formula and
// table validation, adjacent-region merges, bullet alignment, and
// final renumbering, in that order (spec.md §4.7). It returns the
// page's assembled Markdown alongside the same regions renumbered in
// pipeline order, content rewritten to their rendered form.
func (f *Formatter) formatPage(pageIdx int, page Page) (string, []Region, []string) {
	regions := make([]Region, len(page.Regions))
	copy(regions, page.Regions)
	sort.SliceStable(regions, func(i, j int) bool { return regions[i].Index < regions[j].Index })

	var warnings []string
	rendered := make([]string, 0, len(regions))
	kinds := make([]string, 0, len(regions))
	lefts := make([]float64, 0, len(regions))
	metas := make([]regionMeta, 0, len(regions))

	for i := 0; i < len(regions); i++ {
		r := regions[i]
		kind := normalizeLabel(r.NativeLabel)
		content := cleanContent(r.Content)
		meta := regionMeta{nativeLabel: r.NativeLabel, task: r.Task, bbox: r.BBox1000, polygon: r.Polygon}

		switch kind {
		case "doc_title":
			content = "# " + stripHeadingDecoration(content)
		case "paragraph_title":
			content = "## " + stripHeadingDecoration(content)
		case "formula":
			body := unwrapFormula(content)
			if i+1 < len(regions) && normalizeLabel(regions[i+1].NativeLabel) == "formula_number" {
				tag := cleanContent(regions[i+1].Content)
				content = wrapFormula(body, tag)
				i++
			} else {
				content = wrapFormula(body, "")
			}
			if _, err := checkFormula(body); err != nil {
				warnings = append(warnings, fmt.Sprintf("page[%d] region[%d] formula validation failed: %v", pageIdx, r.Index, err))
			}
		case "formula_number":
			// Consumed by the preceding formula's lookahead above; a
			// formula_number with no preceding formula renders as its own
			// display-math block.
			content = wrapFormula(content, "")
		case "text", "abandon":
			content = normalizeTextBlock(content)
		case "table":
			if looksLikeHTML(content) {
				if err := checkTableHTML(content); err != nil {
					warnings = append(warnings, fmt.Sprintf("page[%d] region[%d] table validation failed: %v", pageIdx, r.Index, err))
					content = "```\n" + content + "\n```"
				}
			}
		case "image":
			if content == "" {
				content = fmt.Sprintf("![](page=%d,bbox=[%g,%g,%g,%g])", pageIdx, r.BBox1000[0], r.BBox1000[1], r.BBox1000[2], r.BBox1000[3])
			}
		}

		rendered = append(rendered, content)
		kinds = append(kinds, kind)
		lefts = append(lefts, r.BBox1000[0])
		metas = append(metas, meta)
	}

	rendered, kinds, lefts, metas = mergeWordBreaks(rendered, kinds, lefts, metas)
	applyBulletAlignment(rendered, kinds, lefts)

	nonEmpty := make([]string, 0, len(rendered))
	for _, c := range rendered {
		if strings.TrimSpace(c) != "" {
			nonEmpty = append(nonEmpty, c)
		}
	}

	outRegions := make([]Region, len(rendered))
	for i, content := range rendered {
		outRegions[i] = Region{
			Index:       i,
			NativeLabel: metas[i].nativeLabel,
			Task:        metas[i].task,
			BBox1000:    metas[i].bbox,
			Polygon:     metas[i].polygon,
			Content:     content,
		}
	}
	return strings.Join(nonEmpty, "\n\n"), outRegions, warnings
}

// normalizeLabel keeps a native detector label that is one of
// {text,table,formula,formula_number,image,doc_title,paragraph_title,abandon}
// and maps every other label to "text".
func normalizeLabel(label string) string {
	switch label {
	case "doc_title", "paragraph_title", "table", "formula", "formula_number", "image", "abandon", "text":
		return label
	default:
		return "text"
	}
}

var runRe = regexp.MustCompile(`[.·_]{2,}|(?:\\_){2,}`)

// cleanContent strips outer whitespace, collapses runs of
// "."/"·"/"_"/"\_" to a canonical 3-character form, and drops a
// literal "\t" at either edge (spec.md §4.7).
func cleanContent(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, `\t`)
	s = strings.TrimSuffix(s, `\t`)
	s = runRe.ReplaceAllStringFunc(s, func(match string) string {
		if strings.HasPrefix(match, `\_`) {
			return strings.Repeat(`\_`, 3)
		}
		return strings.Repeat(string([]rune(match)[0]), 3)
	})
	return strings.TrimSpace(s)
}

var headingDecorationRe = regexp.MustCompile(`^(#+\s*|-\s+|\*\s+)+`)

func stripHeadingDecoration(s string) string {
	return headingDecorationRe.ReplaceAllString(s, "")
}

var mathDelimiters = []struct {
	open, close string
}{
	{"$$", "$$"},
	{`\[`, `\]`},
	{`\(`, `\)`},
}

func unwrapFormula(s string) string {
	s = strings.TrimSpace(s)
	for _, d := range mathDelimiters {
		if strings.HasPrefix(s, d.open) && strings.HasSuffix(s, d.close) {
			inner := s[len(d.open) : len(s)-len(d.close)]
			return strings.TrimSpace(inner)
		}
	}
	return s
}

func wrapFormula(body, tag string) string {
	if tag != "" {
		return "$$\n" + body + ` \tag{` + tag + "}\n$$"
	}
	return "$$\n" + body + "\n$$"
}

var (
	bulletPrefixRe = regexp.MustCompile(`^[·•*]\s*`)
	numberingRe    = regexp.MustCompile(`^[（(]\s*(\d+)\s*[）)]|^([A-Za-z])[.)]|^(\d+)[.)]`)
	blankLinesRe   = regexp.MustCompile(`\n{2,}`)
)

// normalizeTextBlock applies spec.md §4.7's text-region rules: bullet
// glyph canonicalization, numbering canonicalization, and single
// newlines doubled into paragraph breaks.
func normalizeTextBlock(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " ")
		indent := line[:len(line)-len(trimmed)]
		if bulletPrefixRe.MatchString(trimmed) {
			trimmed = "- " + bulletPrefixRe.ReplaceAllString(trimmed, "")
		} else if m := numberingRe.FindStringSubmatch(trimmed); m != nil {
			rest := trimmed[len(m[0]):]
			trimmed = canonicalNumbering(m) + strings.TrimLeft(rest, " ")
		}
		lines[i] = indent + trimmed
	}
	joined := strings.Join(lines, "\n")
	joined = regexp.MustCompile(`([^\n])\n([^\n])`).ReplaceAllString(joined, "$1\n\n$2")
	joined = blankLinesRe.ReplaceAllString(joined, "\n\n")
	return joined
}

func canonicalNumbering(m []string) string {
	switch {
	case m[1] != "":
		return "(" + m[1] + ") "
	case m[2] != "":
		return m[2] + ". "
	case m[3] != "":
		return m[3] + ". "
	default:
		return m[0]
	}
}

var trailingHyphenWordRe = regexp.MustCompile(`[A-Za-z]-$`)
var leadingLowerRe = regexp.MustCompile(`^[a-z]`)

// mergeWordBreaks merges adjacent text regions when the left ends with
// "-" and the right begins with a lowercase letter (spec.md §4.7 word
// break recombination). The merged entry keeps the left region's
// metadata, since the two collapse into the left's position.
func mergeWordBreaks(rendered, kinds []string, lefts []float64, metas []regionMeta) ([]string, []string, []float64, []regionMeta) {
	outR := rendered[:0:0]
	outK := kinds[:0:0]
	outL := lefts[:0:0]
	outM := metas[:0:0]
	for i := 0; i < len(rendered); i++ {
		if i+1 < len(rendered) && kinds[i] == "text" && kinds[i+1] == "text" &&
			trailingHyphenWordRe.MatchString(strings.TrimRight(rendered[i], "\n")) &&
			leadingLowerRe.MatchString(rendered[i+1]) {
			left := strings.TrimRight(rendered[i], "\n")
			merged := left[:len(left)-1] + rendered[i+1]
			outR = append(outR, merged)
			outK = append(outK, "text")
			outL = append(outL, lefts[i])
			outM = append(outM, metas[i])
			i++
			continue
		}
		outR = append(outR, rendered[i])
		outK = append(outK, kinds[i])
		outL = append(outL, lefts[i])
		outM = append(outM, metas[i])
	}
	return outR, outK, outL, outM
}

// applyBulletAlignment implements spec.md §4.7's bullet-alignment
// heuristic in place: when a middle text region sits between two
// bulleted text regions and its x-left is within 10 units of both
// neighbors, prepend "- ".
func applyBulletAlignment(rendered, kinds []string, lefts []float64) {
	for i := 1; i < len(rendered)-1; i++ {
		if kinds[i] != "text" || strings.HasPrefix(rendered[i], "- ") {
			continue
		}
		if kinds[i-1] != "text" || kinds[i+1] != "text" {
			continue
		}
		if !strings.HasPrefix(rendered[i-1], "- ") || !strings.HasPrefix(rendered[i+1], "- ") {
			continue
		}
		if absF(lefts[i]-lefts[i-1]) <= 10 && absF(lefts[i]-lefts[i+1]) <= 10 {
			rendered[i] = "- " + rendered[i]
		}
	}
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func looksLikeHTML(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), "<table")
}
