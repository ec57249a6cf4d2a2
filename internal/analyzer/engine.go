package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/SuryaSriramD/CodeAgentTool/models"
)

const (
	// DefaultMaxWorkers caps concurrent analyzer subprocesses process-wide.
	DefaultMaxWorkers = 4
	// DefaultOuterTimeout is enforced by the engine around every invocation.
	DefaultOuterTimeout = 600 * time.Second
)

// RunOptions parameterises one engine run.
type RunOptions struct {
	// JobID is used for logging only.
	JobID string
	// Timeout is handed to each analyzer.
	Timeout time.Duration
	// Rules maps analyzer name to its ruleset selection.
	Rules map[string][]string
	// OnDispatch is called in dispatch order with the 0-based index.
	OnDispatch func(i, n int, name string)
}

// Engine runs analyzers with bounded concurrency. One Engine is shared by
// every job so its semaphore bounds subprocesses across the whole process.
type Engine struct {
	registry     *Registry
	sem          *semaphore.Weighted
	outerTimeout time.Duration
	onResult     func(jobID string, res models.AnalyzerResult)
}

// NewEngine returns an Engine allowing maxWorkers concurrent analyzers.
func NewEngine(reg *Registry, maxWorkers int, outerTimeout time.Duration) *Engine {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	if outerTimeout <= 0 {
		outerTimeout = DefaultOuterTimeout
	}
	return &Engine{
		registry:     reg,
		sem:          semaphore.NewWeighted(int64(maxWorkers)),
		outerTimeout: outerTimeout,
	}
}

// SetResultHook registers fn to observe every analyzer result.
// Must be called before the first Run.
func (e *Engine) SetResultHook(fn func(jobID string, res models.AnalyzerResult)) {
	e.onResult = fn
}

// Registry returns the analyzers this engine dispatches to.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Run executes names against workspace and returns one result per analyzer
// in dispatch order. A failing, panicking or timed-out analyzer yields an
// unsuccessful result; the others keep running.
func (e *Engine) Run(ctx context.Context, names []string, workspace string, opts RunOptions) []models.AnalyzerResult {
	results := make([]models.AnalyzerResult, len(names))
	var g errgroup.Group

	for i, name := range names {
		if opts.OnDispatch != nil {
			opts.OnDispatch(i, len(names), name)
		}
		g.Go(func() error {
			results[i] = e.runSlot(ctx, name, workspace, opts)
			if e.onResult != nil {
				e.onResult(opts.JobID, results[i])
			}
			return nil
		})
	}

	// Workers never return errors; failures live in the results.
	_ = g.Wait()
	return results
}

func (e *Engine) runSlot(ctx context.Context, name, workspace string, opts RunOptions) models.AnalyzerResult {
	a, ok := e.registry.Get(name)
	if !ok {
		return models.FailedResult(name, 0, fmt.Sprintf("unknown analyzer %q", name))
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return models.FailedResult(name, 0, fmt.Sprintf("%s not started: %v", name, err))
	}
	defer e.sem.Release(1)

	aopts := Options{Timeout: opts.Timeout, Rules: opts.Rules[name]}
	slog.Info("Running analyzer", "analyzer", name, "job_id", opts.JobID, "timeout", aopts.timeout())

	res := e.invoke(ctx, a, workspace, aopts)
	res.ToolName = name
	if !res.Success {
		res.Issues = nil
		slog.Error("Analyzer failed",
			"analyzer", name,
			"job_id", opts.JobID,
			"duration_ms", res.DurationMs,
			"error", res.ErrorMessage,
		)
		return res
	}
	slog.Info("Analyzer completed",
		"analyzer", name,
		"job_id", opts.JobID,
		"findings", len(res.Issues),
		"duration", fmt.Sprintf("%.1fs", float64(res.DurationMs)/1000),
	)
	return res
}

// invoke runs a under the outer timeout. It returns when the analyzer does or
// when the deadline passes, whichever comes first.
func (e *Engine) invoke(ctx context.Context, a Analyzer, workspace string, opts Options) models.AnalyzerResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.outerTimeout)
	defer cancel()

	done := make(chan models.AnalyzerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Analyzer panicked", "analyzer", a.Name(), "panic", r, "stack", string(debug.Stack()))
				done <- models.FailedResult(a.Name(), time.Since(start).Milliseconds(), fmt.Sprintf("analyzer panicked: %v", r))
			}
		}()
		done <- a.Run(ctx, workspace, opts)
	}()

	select {
	case res := <-done:
		if res.DurationMs == 0 {
			res.DurationMs = time.Since(start).Milliseconds()
		}
		return res
	case <-ctx.Done():
		elapsed := time.Since(start).Milliseconds()
		if ctx.Err() == context.DeadlineExceeded {
			return models.FailedResult(a.Name(), elapsed, fmt.Sprintf("%s timed out after %s", a.Name(), e.outerTimeout))
		}
		return models.FailedResult(a.Name(), elapsed, fmt.Sprintf("%s canceled", a.Name()))
	}
}
