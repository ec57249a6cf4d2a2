package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/SuryaSriramD/CodeAgentTool/models"
)

var semgrepExtensions = []string{
	".py", ".js", ".ts", ".jsx", ".tsx", ".java", ".go",
	".c", ".cpp", ".cc", ".cxx", ".h", ".hpp",
	".rb", ".php", ".scala", ".kt", ".swift",
	".cs", ".fs", ".vb", ".rs", ".sh", ".bash",
	".yaml", ".yml", ".json", ".xml", ".html",
	".dockerfile",
}

// Rule-id substrings used when semgrep reports no severity, checked in order.
var (
	semgrepHighPatterns = []string{
		"sql-injection", "xss", "command-injection", "path-traversal",
		"deserialization", "crypto", "hardcoded-password", "rce",
	}
	semgrepCriticalPatterns = []string{"critical", "remote-code-execution", "authentication-bypass"}
	semgrepLowPatterns      = []string{"info", "debug", "comment", "todo", "unused"}
)

// Semgrep implements Analyzer using semgrep for multi-language SAST.
type Semgrep struct {
	tools Toolchain
}

func NewSemgrep(tc Toolchain) *Semgrep {
	return &Semgrep{tools: tc}
}

func (s *Semgrep) Name() string        { return "semgrep" }
func (s *Semgrep) Binary() string      { return "semgrep" }
func (s *Semgrep) DockerImage() string { return "semgrep/semgrep:latest" }

func (s *Semgrep) Version(ctx context.Context) string {
	return s.tools.version(ctx, "semgrep")
}

func (s *Semgrep) IsApplicable(inv *Inventory) bool {
	return inv.HasExtension(semgrepExtensions...)
}

func (s *Semgrep) Run(ctx context.Context, workspace string, opts Options) models.AnalyzerResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	args := []string{"scan", "--json", "--quiet", "--no-git-ignore", "--metrics=off"}
	if len(opts.Rules) == 0 {
		args = append(args, "--config=auto")
	}
	for _, r := range opts.Rules {
		args = append(args, "--config", r)
	}

	out, err := s.tools.output(ctx, invocation{
		binary:     "semgrep",
		image:      s.DockerImage(),
		args:       append(args, workspace),
		dockerArgs: append(append([]string{"semgrep"}, args...), dockerMount),
		dir:        workspace,
		// semgrep exits 1 when findings are present.
		okCodes: []int{1},
	})
	if err != nil {
		return failure(s.Name(), start, opts.timeout(), err)
	}

	issues, err := ParseSemgrep(out, workspace)
	if err != nil {
		return failure(s.Name(), start, opts.timeout(), err)
	}
	return success(s.Name(), start, issues)
}

// semgrepOutput mirrors the semgrep JSON output schema.
type semgrepOutput struct {
	Results []struct {
		CheckID string `json:"check_id"`
		Path    string `json:"path"`
		Start   struct {
			Line int `json:"line"`
		} `json:"start"`
		Extra struct {
			Message  string      `json:"message"`
			Severity looseString `json:"severity"`
			Fix      string      `json:"fix"`
			Metadata struct {
				Severity looseString `json:"severity"`
				CWE      stringList  `json:"cwe"`
			} `json:"metadata"`
		} `json:"extra"`
	} `json:"results"`
}

// ParseSemgrep converts semgrep JSON output into issues.
func ParseSemgrep(data []byte, workspace string) ([]models.Issue, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var output semgrepOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("parsing semgrep JSON: %w", err)
	}

	issues := make([]models.Issue, 0, len(output.Results))
	for _, r := range output.Results {
		checkID := firstNonEmpty(r.CheckID, "unknown")
		line := r.Start.Line
		if line <= 0 {
			line = 1
		}
		issue := models.Issue{
			Tool:     "semgrep",
			Type:     checkID,
			Message:  firstNonEmpty(r.Extra.Message, "Security issue detected"),
			Severity: SemgrepSeverity(string(r.Extra.Severity), string(r.Extra.Metadata.Severity), checkID),
			File:     RelativePath(r.Path, workspace),
			Line:     line,
			RuleID:   checkID,
		}
		if r.Extra.Fix != "" {
			issue.Suggestion = "Fix: " + r.Extra.Fix
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// SemgrepSeverity prefers the finding's own severity, then its metadata,
// then infers a level from the rule id.
func SemgrepSeverity(severity, metaSeverity, checkID string) models.Severity {
	if severity != "" {
		return models.ParseSeverity(severity)
	}
	if metaSeverity != "" {
		return models.ParseSeverity(metaSeverity)
	}
	id := strings.ToLower(checkID)
	switch {
	case containsAny(id, semgrepHighPatterns...):
		return models.SeverityHigh
	case containsAny(id, semgrepCriticalPatterns...):
		return models.SeverityCritical
	case containsAny(id, semgrepLowPatterns...):
		return models.SeverityLow
	}
	return models.SeverityMedium
}
