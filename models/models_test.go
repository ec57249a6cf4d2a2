package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeverity(t *testing.T) {
	tests := map[string]Severity{
		"critical": SeverityCritical,
		" HIGH ":   SeverityHigh,
		"error":    SeverityHigh,
		"Warning":  SeverityMedium,
		"info":     SeverityLow,
		"1":        SeverityLow,
		"2":        SeverityMedium,
		"3":        SeverityHigh,
		"4":        SeverityCritical,
		"moderate": SeverityMedium,
		"":         SeverityMedium,
	}
	for raw, want := range tests {
		assert.Equal(t, want, ParseSeverity(raw), "raw=%q", raw)
	}
}

func TestSeverityEscalateNeverLowers(t *testing.T) {
	for _, from := range Severities {
		for _, to := range Severities {
			got := from.Escalate(to)
			assert.GreaterOrEqual(t, got.Weight(), from.Weight())
			assert.GreaterOrEqual(t, got.Weight(), to.Weight())
		}
	}
	assert.False(t, Severity("bogus").Valid())
}

func TestCanTransition(t *testing.T) {
	all := []JobStatus{JobQueued, JobRunning, JobCompleted, JobFailed, JobCanceled, JobExpired}
	legal := map[[2]JobStatus]bool{
		{JobQueued, JobRunning}:    true,
		{JobQueued, JobCanceled}:   true,
		{JobRunning, JobCompleted}: true,
		{JobRunning, JobFailed}:    true,
		{JobRunning, JobCanceled}:  true,
		{JobCompleted, JobExpired}: true,
		{JobFailed, JobExpired}:    true,
		{JobCanceled, JobExpired}:  true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, legal[[2]JobStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	for _, s := range all {
		assert.Equal(t, s == JobQueued || s == JobRunning, !s.IsTerminal(), s)
		assert.Equal(t, !s.IsTerminal(), s.Cancelable(), s)
	}
}

func TestAnalyzePhase(t *testing.T) {
	p := AnalyzePhase("semgrep")
	assert.Equal(t, Phase("analyze:semgrep"), p)
	assert.Equal(t, "semgrep", p.Tool())
	assert.Empty(t, PhaseMerge.Tool())
}

func TestJobInfoCloneIsDeep(t *testing.T) {
	now := time.Now().UTC()
	j := JobInfo{JobID: "x", Status: JobRunning, Progress: &Progress{Phase: PhaseFetch, Percent: 10}, StartedAt: &now}
	c := j.Clone()
	c.Progress.Percent = 99
	*c.StartedAt = now.Add(time.Hour)
	assert.Equal(t, 10, j.Progress.Percent)
	assert.Equal(t, now, *j.StartedAt)
	assert.Nil(t, c.FinishedAt)
}

func TestJobInfoJSONKeys(t *testing.T) {
	j := JobInfo{JobID: "x", Status: JobQueued, Progress: &Progress{Phase: PhaseFetch}, SubmittedAt: time.Unix(0, 0).UTC()}
	data, err := json.Marshal(j)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, k := range []string{"job_id", "status", "progress", "submitted_at", "started_at", "finished_at"} {
		assert.Contains(t, raw, k)
	}
	assert.NotContains(t, raw, "error")
	assert.Nil(t, raw["started_at"])
}

func TestSeveritySummary(t *testing.T) {
	var s SeveritySummary
	for _, sev := range []Severity{SeverityCritical, SeverityLow, SeverityLow, SeverityHigh} {
		s.Add(sev)
	}
	assert.Equal(t, 4, s.Total())
	assert.Equal(t, 2, s.Count(SeverityLow))
	assert.Equal(t, 0, s.Count(SeverityMedium))
}

func TestReportJSONRoundTrip(t *testing.T) {
	r := Report{
		JobID: "job-1",
		Meta: ReportMeta{
			Tools:       []string{"bandit"},
			Repo:        RepoInfo{Source: "github", URL: "https://github.com/o/r", Ref: "main", Commit: "abc"},
			GeneratedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			DurationMs:  42,
			Labels:      []string{"ci"},
		},
		Summary: SeveritySummary{High: 1},
		Files: []FileIssues{{Path: "a.py", Issues: []Issue{{
			Tool: "bandit", Type: "B602", Message: "shell", Severity: SeverityHigh, File: "a.py", Line: 3, RuleID: "B602",
		}}}},
	}
	data, err := json.Marshal(r)
	require.NoError(t, err)

	var back Report
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, r, back)
	assert.Equal(t, 1, back.IssueCount())
}
