package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/SuryaSriramD/CodeAgentTool/models"
)

// Depcheck implements Analyzer by auditing dependency manifests with
// pip-audit (requirements files) and npm audit (package.json).
type Depcheck struct {
	tools Toolchain
}

func NewDepcheck(tc Toolchain) *Depcheck {
	return &Depcheck{tools: tc}
}

func (d *Depcheck) Name() string        { return "depcheck" }
func (d *Depcheck) Binary() string      { return "pip-audit" }
func (d *Depcheck) DockerImage() string { return "" }

func (d *Depcheck) Version(ctx context.Context) string {
	return d.tools.version(ctx, "pip-audit")
}

func (d *Depcheck) IsApplicable(inv *Inventory) bool {
	return inv != nil && len(inv.Manifests) > 0
}

// Run audits each supported manifest. A manifest whose audit fails is
// logged and skipped; the result only fails when every audit failed.
func (d *Depcheck) Run(ctx context.Context, workspace string, opts Options) models.AnalyzerResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	inv, err := Scan(workspace)
	if err != nil {
		return failure(d.Name(), start, opts.timeout(), err)
	}
	if len(inv.Manifests) == 0 {
		slog.Info("No dependency files found, skipping dependency check")
		return success(d.Name(), start, nil)
	}

	var (
		issues   []models.Issue
		errs     []error
		attempts int
	)
	for _, manifest := range inv.Manifests {
		if ctx.Err() != nil {
			return failure(d.Name(), start, opts.timeout(), ctx.Err())
		}
		var (
			found []models.Issue
			err   error
		)
		name := path.Base(manifest)
		switch {
		case strings.HasPrefix(name, "requirements") && strings.HasSuffix(name, ".txt"):
			attempts++
			found, err = d.pipAudit(ctx, workspace, manifest)
		case name == "package.json":
			attempts++
			found, err = d.npmAudit(ctx, workspace, manifest)
		default:
			slog.Debug("No dependency auditor for manifest", "manifest", manifest)
			continue
		}
		if err != nil {
			slog.Warn("Dependency audit failed", "manifest", manifest, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", manifest, err))
			continue
		}
		issues = append(issues, found...)
	}

	if attempts > 0 && len(errs) == attempts {
		return failure(d.Name(), start, opts.timeout(), errors.Join(errs...))
	}
	return success(d.Name(), start, issues)
}

func (d *Depcheck) pipAudit(ctx context.Context, workspace, manifest string) ([]models.Issue, error) {
	out, err := d.tools.output(ctx, invocation{
		binary: "pip-audit",
		args: []string{
			"--requirement", filepath.Join(workspace, filepath.FromSlash(manifest)),
			"--format=json",
			"--no-deps",
			"--progress-spinner=off",
		},
		dir: workspace,
		// pip-audit exits 1 when vulnerabilities are found.
		okCodes: []int{1},
	})
	if err != nil {
		return nil, err
	}
	return ParsePipAudit(out, manifest)
}

func (d *Depcheck) npmAudit(ctx context.Context, workspace, manifest string) ([]models.Issue, error) {
	out, err := d.tools.output(ctx, invocation{
		binary: "npm",
		args:   []string{"audit", "--json", "--audit-level=info"},
		dir:    filepath.Join(workspace, filepath.FromSlash(path.Dir(manifest))),
		// npm audit exits 1 when vulnerabilities are found.
		okCodes: []int{1},
	})
	if err != nil {
		return nil, err
	}
	return ParseNpmAudit(out, manifest)
}

// pipAuditOutput mirrors `pip-audit --format=json`.
type pipAuditOutput struct {
	Dependencies []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Vulns   []struct {
			ID          string   `json:"id"`
			FixVersions []string `json:"fix_versions"`
			Aliases     []string `json:"aliases"`
			Description string   `json:"description"`
		} `json:"vulns"`
	} `json:"dependencies"`
}

// ParsePipAudit converts pip-audit JSON into issues attributed to manifest.
func ParsePipAudit(data []byte, manifest string) ([]models.Issue, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var output pipAuditOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("parsing pip-audit JSON: %w", err)
	}

	var issues []models.Issue
	for _, dep := range output.Dependencies {
		pkg := firstNonEmpty(dep.Name, "unknown")
		version := firstNonEmpty(dep.Version, "unknown")
		for _, v := range dep.Vulns {
			id := firstNonEmpty(v.ID, "unknown")
			desc := firstNonEmpty(v.Description, "Vulnerable dependency detected")
			issue := models.Issue{
				Tool:     "depcheck",
				Type:     id,
				Message:  fmt.Sprintf("Vulnerable dependency: %s %s - %s", pkg, version, desc),
				Severity: VulnerabilitySeverity(id, v.Aliases, v.Description),
				File:     manifest,
				Line:     1,
				RuleID:   id,
			}
			if len(v.FixVersions) > 0 {
				issue.Suggestion = fmt.Sprintf("Upgrade %s to version %s or later", pkg, v.FixVersions[0])
			}
			issues = append(issues, issue)
		}
	}
	return issues, nil
}

// VulnerabilitySeverity grades an advisory that carries no CVSS score.
// GHSA aliases win, then description keywords, then CVE ids.
func VulnerabilitySeverity(id string, aliases []string, description string) models.Severity {
	for _, a := range aliases {
		if strings.HasPrefix(a, "GHSA-") {
			return models.SeverityHigh
		}
	}
	desc := strings.ToLower(description)
	switch {
	case containsAny(desc, "remote code execution", "rce", "critical", "arbitrary code"):
		return models.SeverityCritical
	case containsAny(desc, "code injection", "sql injection", "xss", "csrf", "authentication bypass"):
		return models.SeverityHigh
	case strings.HasPrefix(strings.ToUpper(id), "CVE-"):
		return models.SeverityHigh
	}
	return models.SeverityMedium
}

// npmAdvisory is an entry of a vulnerability's via list: either an advisory
// object or the name of another vulnerable package.
type npmAdvisory struct {
	Title string     `json:"title"`
	CWE   stringList `json:"cwe"`
	isRef bool
}

func (a *npmAdvisory) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		a.isRef = true
		return nil
	}
	type plain npmAdvisory
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = npmAdvisory(p)
	return nil
}

// npmAuditOutput mirrors `npm audit --json` (lockfile v2+).
type npmAuditOutput struct {
	Vulnerabilities map[string]struct {
		Severity string        `json:"severity"`
		Via      []npmAdvisory `json:"via"`
	} `json:"vulnerabilities"`
}

// ParseNpmAudit converts npm audit JSON into issues attributed to manifest.
// Packages are reported in name order.
func ParseNpmAudit(data []byte, manifest string) ([]models.Issue, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var output npmAuditOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("parsing npm audit JSON: %w", err)
	}

	names := make([]string, 0, len(output.Vulnerabilities))
	for n := range output.Vulnerabilities {
		names = append(names, n)
	}
	sort.Strings(names)

	issues := make([]models.Issue, 0, len(names))
	for _, pkg := range names {
		v := output.Vulnerabilities[pkg]
		title := "Vulnerable dependency: " + pkg
		id := "npm-audit"
		if len(v.Via) > 0 {
			title, id = "Vulnerable dependency", "unknown"
			if first := v.Via[0]; !first.isRef {
				title = firstNonEmpty(first.Title, title)
				if len(first.CWE) > 0 {
					id = first.CWE[0]
				}
			}
		}
		issues = append(issues, models.Issue{
			Tool:       "depcheck",
			Type:       id,
			Message:    title,
			Severity:   models.ParseSeverity(v.Severity),
			File:       manifest,
			Line:       1,
			RuleID:     id,
			Suggestion: fmt.Sprintf("Update %s to a secure version", pkg),
		})
	}
	return issues, nil
}
