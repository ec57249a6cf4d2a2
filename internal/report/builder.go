// Package report assembles analyzer results into reports and persists them.
package report

import (
	"sort"
	"time"

	"github.com/SuryaSriramD/CodeAgentTool/internal/analyzer"
	"github.com/SuryaSriramD/CodeAgentTool/models"
)

// Builder aggregates successful analyzer results into one Report.
// It is not safe for concurrent use.
type Builder struct {
	workspace string
	tools     []string
	// byPath preserves insertion order within each file.
	byPath map[string][]models.Issue
}

// NewBuilder returns a Builder that rewrites issue paths relative to workspace.
func NewBuilder(workspace string) *Builder {
	return &Builder{
		workspace: workspace,
		byPath:    make(map[string][]models.Issue),
	}
}

// AddResult merges res. Unsuccessful results are skipped entirely.
func (b *Builder) AddResult(res models.AnalyzerResult) {
	if !res.Success {
		return
	}
	b.tools = append(b.tools, res.ToolName)
	for _, issue := range res.Issues {
		issue.File = analyzer.RelativePath(issue.File, b.workspace)
		if !issue.Severity.Valid() {
			issue.Severity = models.ParseSeverity(string(issue.Severity))
		}
		if issue.Line <= 0 {
			issue.Line = 1
		}
		b.byPath[issue.File] = append(b.byPath[issue.File], issue)
	}
}

// Build produces the report. Files are sorted by path and the summary is
// computed from the merged issue set.
func (b *Builder) Build(jobID string, repo models.RepoInfo, labels []string, start, end time.Time) models.Report {
	paths := make([]string, 0, len(b.byPath))
	for p := range b.byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var summary models.SeveritySummary
	files := make([]models.FileIssues, 0, len(paths))
	for _, p := range paths {
		issues := b.byPath[p]
		for _, issue := range issues {
			summary.Add(issue.Severity)
		}
		files = append(files, models.FileIssues{
			Path:   p,
			Issues: append([]models.Issue(nil), issues...),
		})
	}

	tools := append([]string{}, b.tools...)
	if labels == nil {
		labels = []string{}
	}

	return models.Report{
		JobID: jobID,
		Meta: models.ReportMeta{
			Tools:       tools,
			Repo:        repo,
			GeneratedAt: end.UTC(),
			DurationMs:  end.Sub(start).Milliseconds(),
			Labels:      append([]string{}, labels...),
		},
		Summary: summary,
		Files:   files,
	}
}
