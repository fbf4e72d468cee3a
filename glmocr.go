// Package glmocr is the public entry point for the on-device document
// understanding pipeline (spec.md §4.1). It wires the layout detector,
// recognizer, and Markdown formatter behind internal/pipeline's
// orchestrator, the same "public API is a thin facade over an internal
// ir.Pipeline" shape the teacher uses for pdfkit.Extract.
package glmocr

import (
	"context"
	"strings"

	"github.com/tansanrao/glm-ocr-swift/internal/config"
	"github.com/tansanrao/glm-ocr-swift/internal/delivery"
	"github.com/tansanrao/glm-ocr-swift/internal/formatter"
	"github.com/tansanrao/glm-ocr-swift/internal/layout"
	"github.com/tansanrao/glm-ocr-swift/internal/pageload"
	"github.com/tansanrao/glm-ocr-swift/internal/pipeline"
)

// InputKind discriminates the closed set of InputDocument variants
// (spec.md §6).
type InputKind = pageload.InputKind

const (
	KindDecodedImage = pageload.KindDecodedImage
	KindImageBytes   = pageload.KindImageBytes
	KindPDFBytes     = pageload.KindPDFBytes
)

// InputDocument mirrors internal/pageload.InputDocument at the public
// boundary; kept as a type alias rather than a converter function so
// callers never need to translate between two near-identical structs.
type InputDocument = pageload.InputDocument

// ParseOptions controls one Parse call (spec.md §6).
type ParseOptions = pipeline.ParseOptions

// RegionRecord is one recognized region within a page (spec.md §3).
type RegionRecord = pipeline.RegionRecord

// PageResult is one page's recognized regions (spec.md §3).
type PageResult = pipeline.PageResult

// DiagnosticBundle carries warnings, stage timings, and metadata
// emitted when ParseOptions.IncludeDiagnostics is set (spec.md §4.1).
type DiagnosticBundle = pipeline.DiagnosticBundle

// Result is Parse's return value (spec.md §3).
type Result = pipeline.Result

// PDFRasterizer is the opaque PDF rendering contract a caller injects
// to support PDF inputs (spec.md §1 Out-of-scope).
type PDFRasterizer = pageload.PDFRasterizer

// HubClient is the opaque model-hub transport contract a caller
// injects to resolve remote model ids (spec.md §4.6, §1 Out-of-scope).
type HubClient = delivery.HubClient

// Pipeline is the top-level facade: a configured orchestrator plus the
// validated Config it was built from. Model delivery is not held here;
// EnsureModelsReady and VerifyOfflineReadiness are separate functions.
type Pipeline struct {
	orchestrator *pipeline.Orchestrator
	config       config.Config
}

// Deps bundles every collaborator New needs. Detector and Recognizer
// are required; PageLoader, Formatter, and Classifier have sensible
// defaults (pageload.New(nil) for image-only inputs, formatter.New(),
// and no scripting classifier, respectively) so callers that only need
// image/PDF OCR without Markdown assembly can omit them.
type Deps struct {
	PageLoader pipeline.PageLoader
	Detector   pipeline.Detector
	Recognizer pipeline.Recognizer
	Cropper    pipeline.Cropper
	Formatter  pipeline.Formatter
	Classifier layout.LabelClassifier
}

// New constructs a Pipeline from already-assembled collaborators and a
// validated Config. Use EnsureModelsReady to resolve model ids to
// local directories and LoadRecognizerWeights to assemble recognizer
// weights from a resolved directory before building Deps.
func New(deps Deps, cfg config.Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, wrapErr(InvalidConfiguration, "glmocr.New", err)
	}
	fmtr := deps.Formatter
	if fmtr == nil {
		fmtr = formatter.New()
	}
	pl := deps.PageLoader
	if pl == nil {
		pl = pageload.New(nil)
	}
	orch := pipeline.New(pl, deps.Detector, deps.Recognizer, deps.Cropper, fmtr, cfg)
	orch.Classifier = deps.Classifier
	return &Pipeline{orchestrator: orch, config: cfg}, nil
}

// Parse runs the full pipeline over in, returning recognized regions
// per page, optional assembled Markdown, and optional diagnostics
// (spec.md §4.1).
func (p *Pipeline) Parse(ctx context.Context, in InputDocument, opts ParseOptions) (Result, error) {
	result, err := p.orchestrator.Parse(ctx, in, opts)
	if err != nil {
		return Result{}, classifyParseError(err)
	}
	return result, nil
}

// classifyParseError maps an internal orchestrator error to a public
// Kind by its stage prefix, mirroring the teacher's ir.Pipeline.Parse
// convention of wrapping each stage's error with a stage-specific
// prefix before returning it (SPEC_FULL.md "Error handling").
func classifyParseError(err error) error {
	if isContextErr(err) {
		return wrapErr(Cancelled, "glmocr.Parse", err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "pipeline: page load"):
		return wrapErr(PDFRenderingFailed, "glmocr.Parse", err)
	case strings.Contains(msg, "pipeline: invalid configuration"):
		return wrapErr(InvalidConfiguration, "glmocr.Parse", err)
	default:
		return wrapErr(InvalidConfiguration, "glmocr.Parse", err)
	}
}

func isContextErr(err error) bool {
	return err == context.Canceled || err == context.DeadlineExceeded
}

// EnsureModelsReady resolves the recognizer and layout model ids to
// local snapshot directories, fetching and integrity-verifying them if
// needed (spec.md §4.6).
func EnsureModelsReady(ctx context.Context, client HubClient, cacheDir, statePath, recognizerID, layoutID string) (recognizerDir, layoutDir string, err error) {
	r := delivery.NewResolver(client, cacheDir, statePath)
	recognizerDir, layoutDir, err = r.EnsureReady(ctx, recognizerID, layoutID)
	if err != nil {
		return "", "", wrapErr(ModelDeliveryFailed, "glmocr.EnsureModelsReady", err)
	}
	return recognizerDir, layoutDir, nil
}

// VerifyOfflineReadiness checks a previously resolved model-delivery
// state against on-disk checksums without any network access (spec.md
// §4.6).
func VerifyOfflineReadiness(statePath string) error {
	if err := delivery.VerifyOfflineReadiness(statePath); err != nil {
		return wrapErr(ModelDeliveryFailed, "glmocr.VerifyOfflineReadiness", err)
	}
	return nil
}
