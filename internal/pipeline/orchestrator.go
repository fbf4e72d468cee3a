// Package pipeline wires the page loader, layout detector, recognizer,
// region cropper, and formatter into the single parse(input, options)
// entry point spec.md §4.1 and §5 describe, the same interface-first
// composition style as the teacher's ir.Pipeline.Parse (spec.md §9
// Design Note "Cyclic graph / pipeline wiring").
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"strconv"
	"sync"
	"time"

	"github.com/tansanrao/glm-ocr-swift/internal/config"
	"github.com/tansanrao/glm-ocr-swift/internal/layout"
	"github.com/tansanrao/glm-ocr-swift/internal/observability"
	"github.com/tansanrao/glm-ocr-swift/internal/pageload"
)

// Orchestrator holds its collaborators as interfaces behind value
// fields, exactly as the teacher's ir.Pipeline holds
// raw.Parser/decoded.Decoder/semantic.Builder.
type Orchestrator struct {
	PageLoader PageLoader
	Detector   Detector
	Recognizer Recognizer
	Cropper    Cropper
	Formatter  Formatter
	Classifier layout.LabelClassifier // optional; nil uses config mapping alone

	Config  config.Config
	Limiter *AsyncLimiter
	Logger  observability.Logger
}

// New constructs an Orchestrator wired with the given collaborators
// and validated config. cropper may be nil to use DefaultCropper.
func New(pl PageLoader, det Detector, rec Recognizer, cropper Cropper, fmtr Formatter, cfg config.Config) *Orchestrator {
	if cropper == nil {
		cropper = DefaultCropper()
	}
	return &Orchestrator{
		PageLoader: pl,
		Detector:   det,
		Recognizer: rec,
		Cropper:    cropper,
		Formatter:  fmtr,
		Config:     cfg,
		Limiter:    NewAsyncLimiter(int(cfg.MaxConcurrentRecognitions)),
		Logger:     observability.NopLogger{},
	}
}

type recognitionJob struct {
	pageIdx, regionIdx int
	image              image.Image
	prompt             string
}

// Parse runs one end-to-end document parse (spec.md §4.1).
func (o *Orchestrator) Parse(ctx context.Context, in pageload.InputDocument, opts ParseOptions) (Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := o.Config.Validate(); err != nil {
		return Result{}, fmt.Errorf("pipeline: invalid configuration: %w", err)
	}

	timings := map[string]float64{}
	var warnings []string
	var warnMu sync.Mutex
	addWarning := func(w string) {
		warnMu.Lock()
		warnings = append(warnings, w)
		warnMu.Unlock()
	}

	effectiveMaxPages := config.EffectiveMaxPages(opts.MaxPages, o.Config)
	pageLoadOpts := pageload.Options{
		DPI:                 o.Config.PDFDPI,
		MaxRenderedLongSide: o.Config.PDFMaxRenderedLongSide,
		EffectiveMaxPages:   effectiveMaxPages,
	}

	loadStart := time.Now()
	pages, err := o.PageLoader.Load(ctx, in, pageLoadOpts)
	timings["page_load"] = elapsedMs(loadStart)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: page load: %w", err)
	}

	regionMatrix := make([][]RegionRecord, len(pages))
	jobs := make([]recognitionJob, 0, len(pages))

	var layoutDuration time.Duration
	for pageIdx, page := range pages {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		if o.Config.EnableLayout {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			detectStart := time.Now()
			detections, postWarnings, err := o.Detector.Detect(ctx, page.Image, o.Config.Layout, o.Classifier)
			detectDuration := time.Since(detectStart)
			layoutDuration += detectDuration
			if err != nil {
				return Result{}, fmt.Errorf("pipeline: layout detection on page %d: %w", pageIdx, err)
			}
			o.Logger.Debug("layout detection", observability.Int("page", pageIdx), observability.Int("detections", len(detections)), observability.Ms("duration_ms", float64(detectDuration.Microseconds())/1000))
			for _, w := range postWarnings {
				addWarning(w)
			}

			records := make([]RegionRecord, len(detections))
			for regionIdx, det := range detections {
				records[regionIdx] = RegionRecord{
					Index:       det.Index,
					NativeLabel: det.Label,
					Task:        det.Task,
					BBox1000:    det.BBox1000,
					Polygon:     toRegionPoints(det.Polygon),
				}
				if det.Task == "skip" || det.Task == "abandon" {
					continue
				}
				crop, err := o.Cropper.Crop(page.Image, det.BBox1000, toRegionPoints(det.Polygon), page.Width, page.Height)
				if err != nil {
					o.Logger.Warn("region crop failed", observability.Int("page", pageIdx), observability.Int("region", regionIdx), observability.Error("err", err))
					addWarning(fmt.Sprintf("page[%d] region[%d] crop failed: %v", pageIdx, regionIdx, err))
					continue
				}
				jobs = append(jobs, recognitionJob{
					pageIdx:   pageIdx,
					regionIdx: regionIdx,
					image:     crop,
					prompt:    o.promptForTask(det.Task),
				})
			}
			regionMatrix[pageIdx] = records
		} else {
			regionMatrix[pageIdx] = []RegionRecord{{
				Index:       0,
				NativeLabel: "text",
				Task:        "text",
				BBox1000:    [4]float64{0, 0, 1000, 1000},
			}}
			jobs = append(jobs, recognitionJob{
				pageIdx:   pageIdx,
				regionIdx: 0,
				image:     page.Image,
				prompt:    o.Config.Prompts.NoLayout,
			})
		}
	}
	if o.Config.EnableLayout {
		timings["layout_preprocess"] = 0
		timings["layout_inference"] = float64(layoutDuration.Milliseconds())
		timings["layout_postprocess"] = 0
	} else {
		timings["ocr_preprocess"] = 0
	}

	ocrStart := time.Now()
	if err := o.runJobs(ctx, jobs, regionMatrix, addWarning); err != nil {
		return Result{}, err
	}
	timings["ocr_inference"] = elapsedMs(ocrStart)
	timings["ocr_postprocess"] = 0
	if o.Config.EnableLayout {
		timings["ocr_preprocess"] = 0
	}

	pageResults := make([]PageResult, len(regionMatrix))
	for i, records := range regionMatrix {
		pageResults[i] = PageResult{Regions: records}
	}

	var markdown string
	var formatterMeta map[string]string
	if o.Formatter != nil {
		var fmtWarnings []string
		var formatted string
		formatted, pageResults, fmtWarnings, formatterMeta = o.Formatter.Format(pageResults)
		for _, w := range fmtWarnings {
			addWarning(w)
		}
		if opts.IncludeMarkdown {
			markdown = formatted
		}
	}

	timings["total"] = elapsedMs(start)

	result := Result{Pages: pageResults, Markdown: markdown}
	if opts.IncludeDiagnostics {
		metadata := o.buildMetadata(len(pages), opts, effectiveMaxPages)
		for k, v := range formatterMeta {
			metadata[k] = v
		}
		result.Diagnostics = DiagnosticBundle{
			Warnings:  warnings,
			TimingsMs: timings,
			Metadata:  metadata,
		}
	}
	return result, nil
}

// runJobs dispatches every recognition job through the AsyncLimiter,
// writing results into disjoint region-matrix slots so no lock is
// needed around the writes themselves (spec.md §4.1 "pre-allocated
// region matrix").
func (o *Orchestrator) runJobs(ctx context.Context, jobs []recognitionJob, regionMatrix [][]RegionRecord, addWarning func(string)) error {
	var wg sync.WaitGroup
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.Limiter.Acquire(ctx); err != nil {
			return err
		}
		job := job
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer o.Limiter.Release()
			jobStart := time.Now()
			text, err := o.Recognizer.Recognize(ctx, job.image, job.prompt, o.Config.Recognition)
			jobDuration := time.Since(jobStart)
			if err != nil {
				o.Logger.Warn("region recognition failed", observability.Int("page", job.pageIdx), observability.Int("region", job.regionIdx), observability.Error("err", err))
				addWarning(fmt.Sprintf("page[%d] region[%d] recognition failed: %v", job.pageIdx, job.regionIdx, err))
				return
			}
			o.Logger.Debug("region recognized", observability.Int("page", job.pageIdx), observability.Int("region", job.regionIdx), observability.Ms("duration_ms", float64(jobDuration.Microseconds())/1000))
			regionMatrix[job.pageIdx][job.regionIdx].Content = text
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (o *Orchestrator) promptForTask(task string) string {
	switch task {
	case "table":
		return o.Config.Prompts.Table
	case "formula":
		return o.Config.Prompts.Formula
	default:
		return o.Config.Prompts.Text
	}
}

func (o *Orchestrator) buildMetadata(pageCount int, opts ParseOptions, effectiveMaxPages *uint32) map[string]string {
	meta := map[string]string{
		"layoutEnabled":             strconv.FormatBool(o.Config.EnableLayout),
		"pageCount":                 strconv.Itoa(pageCount),
		"maxConcurrentRecognitions": strconv.FormatUint(uint64(o.Config.MaxConcurrentRecognitions), 10),
		"maxPagesOption":            optionalUint32String(opts.MaxPages),
		"defaultMaxPages":           optionalUint32String(o.Config.DefaultMaxPages),
		"effectiveMaxPages":         optionalUint32String(effectiveMaxPages),
		"pdfDPI":                    strconv.Itoa(o.Config.PDFDPI),
		"pdfMaxRenderedLongSide":    strconv.Itoa(o.Config.PDFMaxRenderedLongSide),
		"noLayoutPromptHash":        truncatedSHA256Hex(o.Config.Prompts.NoLayout),
		"prompt.text":               truncatedSHA256Hex(o.Config.Prompts.Text),
		"prompt.table":              truncatedSHA256Hex(o.Config.Prompts.Table),
		"prompt.formula":            truncatedSHA256Hex(o.Config.Prompts.Formula),
	}
	return meta
}

func optionalUint32String(v *uint32) string {
	if v == nil {
		return ""
	}
	return strconv.FormatUint(uint64(*v), 10)
}

func truncatedSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
