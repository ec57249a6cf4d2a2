package jobs

import (
	"log/slog"
	"time"

	"github.com/SuryaSriramD/CodeAgentTool/models"
)

// SweepExpired removes terminal jobs submitted before now minus the
// retention window, including state files left by earlier processes.
func (m *Manager) SweepExpired(now time.Time) int {
	cutoff := now.Add(-m.opts.Retention)

	m.mu.Lock()
	var expired []string
	swept := make(map[string]*job)
	for id, j := range m.jobs {
		if models.CanTransition(j.info.Status, models.JobExpired) && j.info.SubmittedAt.Before(cutoff) {
			j.info.Status = models.JobExpired
			j.cancel()
			delete(m.jobs, id)
			expired = append(expired, id)
			swept[id] = j
		}
	}
	m.mu.Unlock()

	for _, rec := range m.state.list() {
		if _, ok := swept[rec.JobID]; ok {
			continue
		}
		m.mu.Lock()
		_, live := m.jobs[rec.JobID]
		m.mu.Unlock()
		if live || !models.CanTransition(rec.Status, models.JobExpired) || !rec.SubmittedAt.Before(cutoff) {
			continue
		}
		expired = append(expired, rec.JobID)
	}

	removed := 0
	for _, id := range expired {
		if err := m.removeState(id, swept[id]); err != nil {
			slog.Warn("Failed to remove job state", "job_id", id, "error", err)
		}
		if m.deps.Source != nil {
			if err := m.deps.Source.Cleanup(id); err != nil {
				slog.Warn("Failed to remove workspace", "job_id", id, "error", err)
			}
		}
		removed++
		slog.Debug("Job expired", "job_id", id)
	}
	if removed > 0 {
		slog.Info("Expired old jobs", "count", removed, "cutoff", cutoff)
	}
	return removed
}

// recoverInterrupted fails persisted jobs that a previous process left
// queued or running.
func (m *Manager) recoverInterrupted() {
	for _, rec := range m.state.list() {
		m.mu.Lock()
		_, live := m.jobs[rec.JobID]
		m.mu.Unlock()
		if live || rec.Status.IsTerminal() {
			continue
		}
		now := m.now().UTC()
		rec.Status = models.JobFailed
		rec.Error = restartMessage
		rec.FinishedAt = &now
		if err := m.state.save(rec); err != nil {
			slog.Warn("Failed to persist recovered job", "job_id", rec.JobID, "error", err)
			continue
		}
		slog.Info("Marked interrupted job as failed", "job_id", rec.JobID)
	}
}

// removeState deletes the state file of id. A live job is retired first so a
// write still in flight cannot recreate the file.
func (m *Manager) removeState(id string, j *job) error {
	if j != nil {
		j.persistMu.Lock()
		defer j.persistMu.Unlock()
		j.retired = true
	}
	return m.state.remove(id)
}
