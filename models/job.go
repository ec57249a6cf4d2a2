package models

import (
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a scan job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
	// JobExpired marks a terminal job the expiry sweep is about to remove.
	JobExpired JobStatus = "expired"
)

// IsTerminal returns true for states that accept no further lifecycle edges.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCanceled, JobExpired:
		return true
	}
	return false
}

// Cancelable reports whether a cancel request may move s to canceled.
func (s JobStatus) Cancelable() bool {
	return s == JobQueued || s == JobRunning
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobQueued:
		return to == JobRunning || to == JobCanceled
	case JobRunning:
		return to == JobCompleted || to == JobFailed || to == JobCanceled
	case JobCompleted, JobFailed, JobCanceled:
		return to == JobExpired
	}
	return false
}

// Phase names the step a job is executing.
type Phase string

const (
	PhaseFetch    Phase = "fetch"
	PhaseSanitize Phase = "sanitize"
	PhaseMerge    Phase = "merge"
	PhaseWrite    Phase = "write"

	analyzePrefix = "analyze:"
)

// AnalyzePhase is the phase recorded while dispatching tool.
func AnalyzePhase(tool string) Phase {
	return Phase(analyzePrefix + tool)
}

// Tool returns the analyzer name of an analyze:<tool> phase, or "".
func (p Phase) Tool() string {
	s := string(p)
	if !strings.HasPrefix(s, analyzePrefix) {
		return ""
	}
	return strings.TrimPrefix(s, analyzePrefix)
}

// Progress is advisory execution progress.
type Progress struct {
	Phase   Phase `json:"phase"   yaml:"phase"`
	Percent int   `json:"percent" yaml:"percent"`
}

// JobInfo is the externally visible state of a job.
type JobInfo struct {
	JobID       string     `json:"job_id"                yaml:"job_id"`
	Status      JobStatus  `json:"status"                yaml:"status"`
	Progress    *Progress  `json:"progress"              yaml:"progress"`
	SubmittedAt time.Time  `json:"submitted_at"          yaml:"submitted_at"`
	StartedAt   *time.Time `json:"started_at"            yaml:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"           yaml:"finished_at"`
	Error       string     `json:"error,omitempty"       yaml:"error,omitempty"`
}

// Clone returns a deep copy so callers never share pointers with the job table.
func (j JobInfo) Clone() JobInfo {
	out := j
	if j.Progress != nil {
		p := *j.Progress
		out.Progress = &p
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
