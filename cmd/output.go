package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"go.yaml.in/yaml/v3"

	"github.com/SuryaSriramD/CodeAgentTool/internal/report"
	"github.com/SuryaSriramD/CodeAgentTool/models"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))

	severityStyles = map[models.Severity]lipgloss.Style{
		models.SeverityCritical: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#DC2626")),
		models.SeverityHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("#EA580C")),
		models.SeverityMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
		models.SeverityLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),
	}
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func checkFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("invalid output format %q (valid: table, json, yaml)", format)
	}
}

func severityLabel(s models.Severity) string {
	st, ok := severityStyles[s]
	if !ok {
		return string(s)
	}
	return st.Render(strings.ToUpper(string(s)))
}

// writeStructured encodes v as json or yaml.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

func summaryLine(s models.SeveritySummary) string {
	return fmt.Sprintf("Critical: %d  High: %d  Medium: %d  Low: %d",
		s.Critical, s.High, s.Medium, s.Low)
}

// printReport writes r in format. The table form lists one row per issue.
func printReport(w io.Writer, r *models.Report, format string) error {
	if format != formatTable {
		return writeStructured(w, format, r)
	}

	fmt.Fprintln(w, headerStyle.Render("=== Report "+r.JobID+" ==="))
	target := r.Meta.Repo.URL
	if r.Meta.Repo.Commit != "" {
		target += " @ " + r.Meta.Repo.Commit
	}
	fmt.Fprintf(w, "Source : %s (%s)\n", target, r.Meta.Repo.Source)
	fmt.Fprintf(w, "Tools  : %s\n", strings.Join(r.Meta.Tools, ", "))
	fmt.Fprintf(w, "Took   : %dms\n\n", r.Meta.DurationMs)

	if r.IssueCount() == 0 {
		fmt.Fprintln(w, successStyle.Render("No issues found."))
		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Severity", "Tool", "File", "Line", "Rule", "Message"})
	for _, f := range r.Files {
		for _, iss := range f.Issues {
			tw.AppendRow(table.Row{severityLabel(iss.Severity), iss.Tool, f.Path, iss.Line, iss.RuleID, truncate(iss.Message, 80)})
		}
	}
	tw.AppendFooter(table.Row{"", "", "", "", "Total", r.IssueCount()})
	tw.Render()

	fmt.Fprintln(w)
	fmt.Fprintln(w, summaryLine(r.Summary))
	return nil
}

func printReportList(w io.Writer, page report.Page, format string) error {
	if format != formatTable {
		return writeStructured(w, format, page)
	}
	if len(page.Items) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No reports."))
		return nil
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Job ID", "Repository", "Generated", "Critical", "High", "Medium", "Low", "Tools"})
	for _, it := range page.Items {
		tw.AppendRow(table.Row{
			it.JobID,
			it.RepoURL,
			it.GeneratedAt.Local().Format("2006-01-02 15:04"),
			it.Summary.Critical,
			it.Summary.High,
			it.Summary.Medium,
			it.Summary.Low,
			strings.Join(it.Tools, ","),
		})
	}
	tw.Render()
	fmt.Fprintf(w, "%d of %d report(s)\n", len(page.Items), page.Total)
	return nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
