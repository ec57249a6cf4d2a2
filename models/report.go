package models

import "time"

// SeveritySummary counts issues per severity level.
type SeveritySummary struct {
	Critical int `json:"critical" yaml:"critical"`
	High     int `json:"high"     yaml:"high"`
	Medium   int `json:"medium"   yaml:"medium"`
	Low      int `json:"low"      yaml:"low"`
}

// Add counts one issue of severity s. Non-canonical values count as medium.
func (s *SeveritySummary) Add(sev Severity) {
	switch sev {
	case SeverityCritical:
		s.Critical++
	case SeverityHigh:
		s.High++
	case SeverityLow:
		s.Low++
	default:
		s.Medium++
	}
}

// Total is the sum of all four counters.
func (s SeveritySummary) Total() int {
	return s.Critical + s.High + s.Medium + s.Low
}

// Count returns the counter for sev.
func (s SeveritySummary) Count(sev Severity) int {
	switch sev {
	case SeverityCritical:
		return s.Critical
	case SeverityHigh:
		return s.High
	case SeverityMedium:
		return s.Medium
	case SeverityLow:
		return s.Low
	default:
		return 0
	}
}

// RepoInfo describes where the scanned source came from.
type RepoInfo struct {
	// Source is "github" for git URLs and "zip" for uploaded archives.
	Source string `json:"source"           yaml:"source"`
	URL    string `json:"url,omitempty"    yaml:"url,omitempty"`
	Ref    string `json:"ref,omitempty"    yaml:"ref,omitempty"`
	Commit string `json:"commit,omitempty" yaml:"commit,omitempty"`
}

// ReportMeta carries report provenance.
type ReportMeta struct {
	Tools       []string  `json:"tools"        yaml:"tools"`
	Repo        RepoInfo  `json:"repo"         yaml:"repo"`
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`
	DurationMs  int64     `json:"duration_ms"  yaml:"duration_ms"`
	Labels      []string  `json:"labels"       yaml:"labels"`
}

// FileIssues groups the issues found in one workspace-relative path.
type FileIssues struct {
	Path   string  `json:"path"   yaml:"path"`
	Issues []Issue `json:"issues" yaml:"issues"`
}

// Report is the immutable artifact of a completed job.
type Report struct {
	JobID   string          `json:"job_id"  yaml:"job_id"`
	Meta    ReportMeta      `json:"meta"    yaml:"meta"`
	Summary SeveritySummary `json:"summary" yaml:"summary"`
	Files   []FileIssues    `json:"files"   yaml:"files"`
}

// IssueCount is the number of issues across all files.
func (r *Report) IssueCount() int {
	n := 0
	for _, f := range r.Files {
		n += len(f.Issues)
	}
	return n
}
