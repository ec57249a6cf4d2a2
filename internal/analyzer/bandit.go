package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/SuryaSriramD/CodeAgentTool/models"
)

// banditCriticalTests escalate a HIGH bandit finding to critical.
var banditCriticalTests = map[string]struct{}{
	"B102": {}, // exec_used
	"B103": {}, // set_bad_file_permissions
	"B104": {}, // hardcoded_bind_all_interfaces
	"B105": {}, // hardcoded_password_string
	"B106": {}, // hardcoded_password_funcarg
	"B107": {}, // hardcoded_password_default
	"B108": {}, // hardcoded_tmp_directory
	"B201": {}, // flask_debug_true
	"B501": {}, // request_with_no_cert_validation
	"B502": {}, // ssl_with_bad_version
	"B503": {}, // ssl_with_bad_defaults
	"B504": {}, // ssl_with_no_version
	"B505": {}, // weak_cryptographic_key
	"B506": {}, // yaml_load
	"B601": {}, // paramiko_calls
	"B602": {}, // subprocess_popen_with_shell_equals_true
	"B603": {}, // subprocess_without_shell_equals_true
	"B604": {}, // any_other_function_with_shell_equals_true
	"B605": {}, // start_process_with_a_shell
	"B606": {}, // start_process_with_no_shell
	"B607": {}, // start_process_with_partial_path
	"B608": {}, // hardcoded_sql_expressions
	"B609": {}, // linux_commands_wildcard_injection
	"B701": {}, // jinja2_autoescape_false
	"B702": {}, // use_of_mako_templates
	"B703": {}, // django_mark_safe
}

// Bandit implements Analyzer using bandit for Python SAST.
type Bandit struct {
	tools Toolchain
}

func NewBandit(tc Toolchain) *Bandit {
	return &Bandit{tools: tc}
}

func (b *Bandit) Name() string        { return "bandit" }
func (b *Bandit) Binary() string      { return "bandit" }
func (b *Bandit) DockerImage() string { return "ghcr.io/pycqa/bandit/bandit:latest" }

func (b *Bandit) Version(ctx context.Context) string {
	return b.tools.version(ctx, "bandit")
}

func (b *Bandit) IsApplicable(inv *Inventory) bool {
	return inv.HasExtension(".py", ".pyw")
}

func (b *Bandit) Run(ctx context.Context, workspace string, opts Options) models.AnalyzerResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	args := []string{"-r", "-f", "json", "-ll", "-q"}
	if len(opts.Rules) > 0 {
		args = append(args, "-t", strings.Join(opts.Rules, ","))
	}

	out, err := b.tools.output(ctx, invocation{
		binary:     "bandit",
		image:      b.DockerImage(),
		args:       append(args, workspace),
		dockerArgs: append(append([]string{}, args...), dockerMount),
		dir:        workspace,
		// bandit exits 1 when it finds issues.
		okCodes: []int{1},
	})
	if err != nil {
		return failure(b.Name(), start, opts.timeout(), err)
	}

	issues, err := ParseBandit(out, workspace)
	if err != nil {
		return failure(b.Name(), start, opts.timeout(), err)
	}
	return success(b.Name(), start, issues)
}

// banditOutput mirrors the bandit JSON report.
type banditOutput struct {
	Results []struct {
		TestID        string `json:"test_id"`
		TestName      string `json:"test_name"`
		IssueText     string `json:"issue_text"`
		IssueSeverity string `json:"issue_severity"`
		Filename      string `json:"filename"`
		LineNumber    int    `json:"line_number"`
		MoreInfo      string `json:"more_info"`
	} `json:"results"`
}

// ParseBandit converts bandit JSON output into issues.
func ParseBandit(data []byte, workspace string) ([]models.Issue, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var output banditOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("parsing bandit JSON: %w", err)
	}

	issues := make([]models.Issue, 0, len(output.Results))
	for _, r := range output.Results {
		testID := firstNonEmpty(r.TestID, "unknown")
		line := r.LineNumber
		if line <= 0 {
			line = 1
		}
		issue := models.Issue{
			Tool:     "bandit",
			Type:     testID,
			Message:  firstNonEmpty(r.IssueText, "Security vulnerability detected"),
			Severity: BanditSeverity(r.IssueSeverity, testID),
			File:     RelativePath(r.Filename, workspace),
			Line:     line,
			RuleID:   testID,
		}
		if r.MoreInfo != "" {
			issue.Suggestion = "See: " + r.MoreInfo
		}
		issues = append(issues, issue)
	}
	slog.Debug("Parsed bandit output", "issues", len(issues))
	return issues, nil
}

// BanditSeverity maps bandit's LOW/MEDIUM/HIGH scale, escalating HIGH
// findings from the critical test set.
func BanditSeverity(raw, testID string) models.Severity {
	var sev models.Severity
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LOW":
		sev = models.SeverityLow
	case "HIGH":
		sev = models.SeverityHigh
	default:
		sev = models.SeverityMedium
	}
	if _, ok := banditCriticalTests[strings.ToUpper(testID)]; ok && sev == models.SeverityHigh {
		return models.SeverityCritical
	}
	return sev
}
