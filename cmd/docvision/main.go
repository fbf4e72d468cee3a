// Command docvision drives the model-delivery side of the on-device
// document understanding pipeline: resolving recognizer/layout model
// ids to local snapshot directories and checking offline readiness.
//
// End-to-end page parsing (glmocr.Pipeline.Parse) is deliberately not
// exposed here: it needs a safetensors.Loader, a tokenizer.Tokenizer,
// and (for PDF input) a PDFRasterizer, and none of those has a
// concrete, production-grade implementation in this module (spec.md
// §1 Out-of-scope names all three as opaque, caller-supplied
// contracts). Embed the glmocr package as a library and wire in your
// own implementations to run a real parse; this binary only drives
// the parts of the system that are fully specified end to end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tansanrao/glm-ocr-swift/internal/config"
	"github.com/tansanrao/glm-ocr-swift/internal/delivery"
)

type options struct {
	recognizerID string
	layoutID     string
	cacheDir     string
	statePath    string
	hubURL       string
	verify       bool
	timeout      time.Duration
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "docvision: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "docvision: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: go run ./cmd/docvision [flags]\n")
		flag.PrintDefaults()
	}
	defaults := config.DefaultConfig()
	recognizerID := flag.String("recognizer-id", defaults.RecognizerModelID, "Recognizer model id or local directory path")
	layoutID := flag.String("layout-id", defaults.LayoutModelID, "Layout model id or local directory path")
	cacheDir := flag.String("cache-dir", "docvision_models", "Snapshot cache directory for resolved remote models")
	statePath := flag.String("state-path", "docvision_models/state.json", "Path to the persisted model-delivery state file")
	hubURL := flag.String("hub-url", "", "Base URL of a hub REST endpoint for remote resolution (leave empty for local-path-only resolution)")
	verify := flag.Bool("verify", false, "Check offline readiness of the previously resolved state instead of resolving")
	timeout := flag.Duration("timeout", 2*time.Minute, "Deadline for the resolve/verify operation")
	flag.Parse()

	if flag.NArg() != 0 {
		flag.Usage()
		return options{}, fmt.Errorf("unexpected positional arguments: %v", flag.Args())
	}
	opts.recognizerID = *recognizerID
	opts.layoutID = *layoutID
	opts.cacheDir = *cacheDir
	opts.statePath = *statePath
	opts.hubURL = *hubURL
	opts.verify = *verify
	opts.timeout = *timeout
	return opts, nil
}

func run(opts options) error {
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	if opts.verify {
		result := verifyResult{StatePath: opts.statePath}
		if err := delivery.VerifyOfflineReadiness(opts.statePath); err != nil {
			result.Ready = false
			result.Error = err.Error()
		} else {
			result.Ready = true
		}
		return emitSection("verify", result)
	}

	var client delivery.HubClient
	if opts.hubURL != "" {
		client = delivery.NewHTTPHubClient(opts.hubURL)
	}
	resolver := delivery.NewResolver(client, opts.cacheDir, opts.statePath)
	recognizerDir, layoutDir, err := resolver.EnsureReady(ctx, opts.recognizerID, opts.layoutID)
	if err != nil {
		return fmt.Errorf("resolve models: %w", err)
	}
	return emitSection("models", resolveResult{
		RecognizerDir: recognizerDir,
		LayoutDir:     layoutDir,
	})
}

type resolveResult struct {
	RecognizerDir string `json:"recognizerDir"`
	LayoutDir     string `json:"layoutDir"`
}

type verifyResult struct {
	StatePath string `json:"statePath"`
	Ready     bool   `json:"ready"`
	Error     string `json:"error,omitempty"`
}

func emitSection(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	fmt.Printf("== %s ==\n%s\n\n", name, data)
	return nil
}
