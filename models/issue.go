package models

// Issue is one normalized finding.
type Issue struct {
	Tool     string   `json:"tool"     yaml:"tool"`
	Type     string   `json:"type"     yaml:"type"`
	Message  string   `json:"message"  yaml:"message"`
	Severity Severity `json:"severity" yaml:"severity"`
	// File is relative to the workspace root (slash separated).
	File string `json:"file" yaml:"file"`
	// Line is 1-based; dependency findings use 1.
	Line       int    `json:"line"                 yaml:"line"`
	RuleID     string `json:"rule_id"              yaml:"rule_id"`
	Suggestion string `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
}

// AnalyzerResult is one analyzer's output for one job.
// A result with Success == false contributes no issues to a report.
type AnalyzerResult struct {
	ToolName     string  `json:"tool_name"`
	Success      bool    `json:"success"`
	Issues       []Issue `json:"issues"`
	DurationMs   int64   `json:"duration_ms"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// FailedResult builds an unsuccessful result for tool.
func FailedResult(tool string, durationMs int64, msg string) AnalyzerResult {
	return AnalyzerResult{
		ToolName:     tool,
		Success:      false,
		DurationMs:   durationMs,
		ErrorMessage: msg,
	}
}
