package notify

import (
	"context"

	"github.com/SuryaSriramD/CodeAgentTool/models"
)

// Event types a webhook may subscribe to.
const (
	EventReportCreated = "report.created"
	EventJobFailed     = "job.failed"
	EventJobCanceled   = "job.canceled"
)

// Event describes a finished job.
type Event struct {
	Type      string // one of the Event* constants
	JobID     string
	Status    models.JobStatus
	Repo      models.RepoInfo
	Summary   models.SeveritySummary
	ReportURL string // empty unless a report was written
	Error     string
}

// Channel is implemented by each notification provider.
type Channel interface {
	Name() string
	IsConfigured() bool
	Send(ctx context.Context, evt Event) error
}

// eventFor maps a terminal job status to the notification type it produces.
func eventFor(status models.JobStatus) (string, bool) {
	switch status {
	case models.JobCompleted:
		return EventReportCreated, true
	case models.JobFailed:
		return EventJobFailed, true
	case models.JobCanceled:
		return EventJobCanceled, true
	}
	return "", false
}
