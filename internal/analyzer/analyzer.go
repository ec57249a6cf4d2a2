package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SuryaSriramD/CodeAgentTool/models"
)

// DefaultTimeout is handed to an analyzer when the caller sets none.
const DefaultTimeout = 300 * time.Second

// Options parameterises one analyzer invocation.
type Options struct {
	// Timeout bounds the tool subprocess.
	Timeout time.Duration
	// Rules selects rulesets or test ids; empty uses the tool's defaults.
	Rules []string
}

// Analyzer is the interface every scanning tool must implement.
// To add a new analyzer:
//  1. Create a new file in internal/analyzer/ (e.g. gosec.go)
//  2. Implement the Analyzer interface
//  3. Register it in NewDefaultRegistry()
type Analyzer interface {
	// Name returns the registry key (e.g. "bandit").
	Name() string

	// Version returns the tool version or "unknown".
	Version(ctx context.Context) string

	// IsApplicable reports whether the workspace has anything for this tool.
	IsApplicable(inv *Inventory) bool

	// Run scans workspace. Failures are reported in the result, never panics
	// or errors, so siblings keep running.
	Run(ctx context.Context, workspace string, opts Options) models.AnalyzerResult
}

// Prober is implemented by analyzers that wrap an external binary.
type Prober interface {
	Binary() string
	DockerImage() string
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

// failure converts a tool error into an unsuccessful result.
func failure(tool string, start time.Time, timeout time.Duration, err error) models.AnalyzerResult {
	msg := fmt.Sprintf("%s analysis failed: %v", tool, err)
	if errors.Is(err, context.DeadlineExceeded) {
		msg = fmt.Sprintf("%s analysis timed out after %s", tool, timeout)
	}
	return models.FailedResult(tool, time.Since(start).Milliseconds(), msg)
}

func success(tool string, start time.Time, issues []models.Issue) models.AnalyzerResult {
	if issues == nil {
		issues = []models.Issue{}
	}
	return models.AnalyzerResult{
		ToolName:   tool,
		Success:    true,
		Issues:     issues,
		DurationMs: time.Since(start).Milliseconds(),
	}
}
