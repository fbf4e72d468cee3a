// Package scripting provides an optional embeddable-JS hook that can
// override layout label->task classification beyond the static config
// map (spec.md §4.3.7 step 10 remains the default path; this package
// is never consulted unless a caller explicitly supplies one).
package scripting

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
)

// LabelClassifier compiles a small JavaScript snippet once and exposes
// it as a layout.LabelClassifier. The script must define a top-level
// function:
//
//	function classify(label, score) { return "text" }
//
// returning a task string, or a falsy value to defer to the config
// map. Grounded on wudi-pdfkit/scripting/goja_impl.go's Execute, which
// runs scripts under a context-driven interrupt rather than a bare
// goja.RunString call.
type LabelClassifier struct {
	vm       *goja.Runtime
	classify goja.Callable
}

// NewLabelClassifier compiles script once and resolves its classify
// function. The returned classifier is safe for concurrent use from a
// single goroutine at a time; callers needing concurrent classification
// should construct one LabelClassifier per goroutine.
func NewLabelClassifier(script string) (*LabelClassifier, error) {
	vm := goja.New()
	if _, err := vm.RunString(script); err != nil {
		return nil, fmt.Errorf("scripting: compile classifier script: %w", err)
	}
	fnVal := vm.Get("classify")
	if fnVal == nil || goja.IsUndefined(fnVal) {
		return nil, fmt.Errorf("scripting: classifier script does not define a top-level classify function")
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, fmt.Errorf("scripting: classify is not callable")
	}
	return &LabelClassifier{vm: vm, classify: fn}, nil
}

// ClassifyTask satisfies internal/layout.LabelClassifier. A script
// error or falsy return value reports no classification (ok=false),
// deferring to the caller's config-map mapping.
func (c *LabelClassifier) ClassifyTask(label string, score float64) (string, bool) {
	return c.ClassifyTaskContext(context.Background(), label, score)
}

// ClassifyTaskContext runs the classify call under ctx, interrupting
// the VM if ctx is cancelled mid-execution (mirrors goja_impl.go's
// Execute cancellation plumbing).
func (c *LabelClassifier) ClassifyTaskContext(ctx context.Context, label string, score float64) (string, bool) {
	if err := ctx.Err(); err != nil {
		return "", false
	}

	done := make(chan struct{})
	defer close(done)
	defer c.vm.ClearInterrupt()
	go func() {
		select {
		case <-ctx.Done():
			c.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	result, err := c.classify(goja.Undefined(), c.vm.ToValue(label), c.vm.ToValue(score))
	if err != nil {
		return "", false
	}
	if goja.IsUndefined(result) || goja.IsNull(result) || !result.ToBoolean() {
		return "", false
	}
	task := result.String()
	if task == "" {
		return "", false
	}
	return task, true
}
