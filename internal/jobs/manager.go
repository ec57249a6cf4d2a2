// Package jobs owns the scan job lifecycle: submission, bounded execution,
// cancellation, persistence of job state and expiry of old jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/SuryaSriramD/CodeAgentTool/internal/analyzer"
	"github.com/SuryaSriramD/CodeAgentTool/internal/config"
	"github.com/SuryaSriramD/CodeAgentTool/internal/report"
	"github.com/SuryaSriramD/CodeAgentTool/internal/source"
	"github.com/SuryaSriramD/CodeAgentTool/models"
)

const (
	DefaultMaxConcurrent = 8
	DefaultRetention     = 7 * 24 * time.Hour
	DefaultSweepSchedule = "@hourly"

	shutdownMessage = "shutting down"
	restartMessage  = "interrupted by restart"
)

// Sanitizer prunes a materialized workspace before analysis.
type Sanitizer interface {
	Sanitize(workspace string, include, exclude []string) (source.Stats, error)
}

// Options tunes a Manager. Zero values take the package defaults.
type Options struct {
	// StateDir receives one <job_id>.json per job.
	StateDir        string
	MaxConcurrent   int
	Retention       time.Duration
	SweepSchedule   string
	CallbackTimeout time.Duration
	// AnalyzerTimeout applies when a request sets no timeout_sec.
	AnalyzerTimeout time.Duration
}

// Deps are the collaborators a Manager drives.
type Deps struct {
	Source    source.Provider
	Sanitizer Sanitizer
	Engine    *analyzer.Engine
	Reports   *report.Store
	Settings  *config.Settings
}

// ListOptions filters List. Zero values match everything.
type ListOptions struct {
	Status models.JobStatus
	Limit  int
}

type job struct {
	id     string
	req    Request
	ctx    context.Context
	cancel context.CancelFunc

	// info and seq are guarded by Manager.mu.
	info models.JobInfo
	seq  uint64

	// persistMu serializes state writes for this job outside Manager.mu.
	persistMu sync.Mutex
	savedSeq  uint64
	retired   bool

	emitMu       sync.Mutex
	finishedSent bool
}

// Manager runs scan jobs. All methods are safe for concurrent use.
type Manager struct {
	opts   Options
	deps   Deps
	state  *stateStore
	events *emitter
	slots  *semaphore.Weighted
	cron   *cron.Cron
	now    func() time.Time

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	jobs   map[string]*job
	closed bool
}

// NewManager returns a Manager. Call Start to enable the expiry sweep and
// Close to shut it down.
func NewManager(opts Options, deps Deps) *Manager {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.SweepSchedule == "" {
		opts.SweepSchedule = DefaultSweepSchedule
	}
	if opts.AnalyzerTimeout <= 0 {
		opts.AnalyzerTimeout = analyzer.DefaultTimeout
	}
	if deps.Settings == nil {
		deps.Settings = config.NewSettings(config.AnalyzerSettings{})
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		opts:    opts,
		deps:    deps,
		state:   newStateStore(opts.StateDir),
		events:  newEmitter(opts.CallbackTimeout),
		slots:   semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		cron:    cron.New(),
		now:     time.Now,
		baseCtx: ctx,
		stop:    stop,
		jobs:    make(map[string]*job),
	}
}

// RegisterEventCallback adds fn to the lifecycle event subscribers.
func (m *Manager) RegisterEventCallback(fn EventCallback) {
	m.events.register(fn)
}

// Start marks jobs left active by a previous process as failed, sweeps
// expired jobs once and schedules the expiry sweep. The schedule stops when
// ctx is done or on Close.
func (m *Manager) Start(ctx context.Context) error {
	m.recoverInterrupted()
	sweep := func() {
		n := m.SweepExpired(m.now())
		slog.Debug("Expiry sweep finished", "removed", n)
	}
	if _, err := m.cron.AddFunc(m.opts.SweepSchedule, sweep); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", m.opts.SweepSchedule, err)
	}
	sweep()
	m.cron.Start()
	context.AfterFunc(ctx, func() { m.cron.Stop() })
	slog.Info("Job manager started",
		"max_concurrent", m.opts.MaxConcurrent,
		"retention", m.opts.Retention,
		"sweep", m.opts.SweepSchedule,
	)
	return nil
}

// Close stops accepting jobs, fails every job still queued or running with
// "shutting down" and waits for their tasks to return.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	var active []*job
	for _, j := range m.jobs {
		if !j.info.Status.IsTerminal() {
			active = append(active, j)
		}
	}
	m.mu.Unlock()

	<-m.cron.Stop().Done()
	for _, j := range active {
		m.finish(j, models.JobFailed, shutdownMessage)
	}
	m.stop()
	m.wg.Wait()
	slog.Info("Job manager stopped", "interrupted", len(active))
}

// Submit validates req, records a queued job and schedules it. It returns
// without waiting for any execution step.
func (m *Manager) Submit(ctx context.Context, req Request) (string, models.JobInfo, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return "", models.JobInfo{}, err
	}
	if err := ctx.Err(); err != nil {
		return "", models.JobInfo{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	id := uuid.NewString()
	jctx, cancel := context.WithCancel(m.baseCtx)
	j := &job{
		id:     id,
		req:    req,
		ctx:    jctx,
		cancel: cancel,
		info: models.JobInfo{
			JobID:       id,
			Status:      models.JobQueued,
			Progress:    &models.Progress{Phase: models.PhaseFetch, Percent: 0},
			SubmittedAt: m.now().UTC(),
		},
	}

	// j is not shared yet, so its first record is written without the lock.
	if err := m.state.save(m.recordLocked(j)); err != nil {
		cancel()
		return "", models.JobInfo{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		if err := m.state.remove(id); err != nil {
			slog.Warn("Failed to remove job state", "job_id", id, "error", err)
		}
		return "", models.JobInfo{}, fmt.Errorf("%w: manager is closed", ErrInternal)
	}
	m.jobs[id] = j
	info := j.info.Clone()
	m.wg.Add(1)
	m.mu.Unlock()

	slog.Info("Job submitted",
		"job_id", id,
		"repo", req.RepoURL,
		"archive", req.HasArchive,
		"analyzers", req.Analyzers,
	)
	go m.execute(j)
	return id, info, nil
}

// Get returns a copy of the job's state, from memory or its state file.
func (m *Manager) Get(id string) (models.JobInfo, error) {
	m.mu.Lock()
	if j, ok := m.jobs[id]; ok {
		info := j.info.Clone()
		m.mu.Unlock()
		return info, nil
	}
	m.mu.Unlock()

	rec, err := m.state.load(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.JobInfo{}, ErrNotFound
		}
		return models.JobInfo{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return rec.JobInfo.Clone(), nil
}

// List returns known jobs, newest first.
func (m *Manager) List(opts ListOptions) []models.JobInfo {
	seen := make(map[string]struct{})
	var out []models.JobInfo

	m.mu.Lock()
	for id, j := range m.jobs {
		seen[id] = struct{}{}
		out = append(out, j.info.Clone())
	}
	m.mu.Unlock()

	for _, rec := range m.state.list() {
		if _, ok := seen[rec.JobID]; ok {
			continue
		}
		out = append(out, rec.JobInfo.Clone())
	}

	filtered := out[:0]
	for _, info := range out {
		if opts.Status == "" || info.Status == opts.Status {
			filtered = append(filtered, info)
		}
	}
	sort.SliceStable(filtered, func(i, k int) bool {
		if filtered[i].SubmittedAt.Equal(filtered[k].SubmittedAt) {
			return filtered[i].JobID < filtered[k].JobID
		}
		return filtered[i].SubmittedAt.After(filtered[k].SubmittedAt)
	})
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	return filtered
}

// Cancel moves a queued or running job to canceled and kills its work.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		if _, err := m.state.load(id); err == nil {
			return fmt.Errorf("%w: job %s is already finished", ErrConflict, id)
		}
		return ErrNotFound
	}
	if !m.finish(j, models.JobCanceled, "") {
		return fmt.Errorf("%w: job %s is already finished", ErrConflict, id)
	}
	slog.Info("Job canceled", "job_id", id)
	return nil
}

// Rerun submits a new job with the request of a finished job.
func (m *Manager) Rerun(ctx context.Context, id string) (string, models.JobInfo, error) {
	var (
		req    Request
		status models.JobStatus
	)
	m.mu.Lock()
	j, ok := m.jobs[id]
	if ok {
		req = j.req.Clone()
		status = j.info.Status
	}
	m.mu.Unlock()

	if !ok {
		rec, err := m.state.load(id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return "", models.JobInfo{}, ErrNotFound
			}
			return "", models.JobInfo{}, fmt.Errorf("%w: %v", ErrInternal, err)
		}
		if rec.Request == nil {
			return "", models.JobInfo{}, fmt.Errorf("%w: job %s has no recorded request", ErrConflict, id)
		}
		req = rec.Request.Clone()
		status = rec.Status
	}

	if !status.IsTerminal() {
		return "", models.JobInfo{}, fmt.Errorf("%w: job %s is still %s", ErrConflict, id, status)
	}
	if req.HasArchive && len(req.Archive) == 0 {
		return "", models.JobInfo{}, fmt.Errorf("%w: archive for job %s is no longer available", ErrConflict, id)
	}
	newID, info, err := m.Submit(ctx, req)
	if err == nil {
		slog.Info("Job rerun", "job_id", newID, "from", id)
	}
	return newID, info, err
}

// execute is the per-job task. Nothing that happens here may escape as a
// panic: every failure ends as a failed job.
func (m *Manager) execute(j *job) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Job panicked", "job_id", j.id, "panic", r, "stack", string(debug.Stack()))
			m.finish(j, models.JobFailed, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := m.slots.Acquire(j.ctx, 1); err != nil {
		slog.Debug("Job stopped before it started", "job_id", j.id)
		return
	}
	defer m.slots.Release(1)

	if !m.begin(j) {
		return
	}
	if err := m.run(j); err != nil {
		if m.finish(j, models.JobFailed, err.Error()) {
			slog.Warn("Job failed", "job_id", j.id, "error", err)
		}
	}
}

func (m *Manager) run(j *job) error {
	ctx := j.ctx
	req := j.req
	start := m.now()

	ws, err := m.deps.Source.Materialize(ctx, req.SourceSpec(), j.id)
	if err != nil {
		return err
	}

	if !m.progress(j, models.PhaseSanitize, 20) {
		return nil
	}
	if _, err := m.deps.Sanitizer.Sanitize(ws.Path, req.Include, req.Exclude); err != nil {
		return fmt.Errorf("sanitizing workspace: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	settings := m.deps.Settings.Snapshot()
	inv, err := analyzer.Scan(ws.Path)
	if err != nil {
		return fmt.Errorf("inventorying workspace: %w", err)
	}
	names := analyzer.Select(req.Analyzers, inv, m.deps.Engine.Registry(), settings)
	slog.Info("Analyzers selected", "job_id", j.id, "analyzers", names)

	results := m.deps.Engine.Run(ctx, names, ws.Path, analyzer.RunOptions{
		JobID:   j.id,
		Timeout: req.Timeout(m.opts.AnalyzerTimeout),
		Rules:   settings.Rulesets,
		OnDispatch: func(i, n int, name string) {
			m.progress(j, models.AnalyzePhase(name), 30+50*i/n)
		},
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	if !m.progress(j, models.PhaseMerge, 85) {
		return nil
	}
	b := report.NewBuilder(ws.Path)
	for _, res := range results {
		b.AddResult(res)
	}
	rep := b.Build(j.id, req.RepoInfo(ws.Commit), req.Labels, start, m.now())

	if !m.progress(j, models.PhaseWrite, 95) {
		return nil
	}
	staged, err := m.deps.Reports.Stage(&rep)
	if err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return m.complete(j, staged, rep.Summary)
}

// begin moves a queued job to running.
func (m *Manager) begin(j *job) bool {
	m.mu.Lock()
	if !models.CanTransition(j.info.Status, models.JobRunning) {
		m.mu.Unlock()
		return false
	}
	now := m.now().UTC()
	j.info.Status = models.JobRunning
	j.info.StartedAt = &now
	j.info.Progress = &models.Progress{Phase: models.PhaseFetch, Percent: 10}
	snap := m.snapshotLocked(j)
	evt := m.progressEventLocked(j)
	m.mu.Unlock()

	m.persist(j, snap)
	slog.Info("Job started", "job_id", j.id)
	m.emit(j, evt)
	return true
}

// progress records a phase change. It reports false once the job has left
// the running state.
func (m *Manager) progress(j *job, phase models.Phase, percent int) bool {
	m.mu.Lock()
	if j.info.Status != models.JobRunning {
		m.mu.Unlock()
		return false
	}
	if j.info.Progress != nil && percent < j.info.Progress.Percent {
		percent = j.info.Progress.Percent
	}
	j.info.Progress = &models.Progress{Phase: phase, Percent: percent}
	snap := m.snapshotLocked(j)
	evt := m.progressEventLocked(j)
	m.mu.Unlock()

	m.persist(j, snap)
	m.emit(j, evt)
	return true
}

// complete commits the staged report and marks the job completed, unless
// the job stopped running meanwhile, in which case the report is dropped.
func (m *Manager) complete(j *job, staged string, summary models.SeveritySummary) error {
	m.mu.Lock()
	if j.info.Status != models.JobRunning {
		m.mu.Unlock()
		m.deps.Reports.Discard(staged)
		return nil
	}
	// Commit runs under mu: a canceled job never has a report.
	if err := m.deps.Reports.Commit(staged, j.id); err != nil {
		m.mu.Unlock()
		return err
	}
	now := m.now().UTC()
	j.info.Status = models.JobCompleted
	j.info.FinishedAt = &now
	snap := m.snapshotLocked(j)
	evt := m.finishedEventLocked(j)
	evt.Summary = &summary
	m.mu.Unlock()

	m.persist(j, snap)
	j.cancel()
	slog.Info("Job completed", "job_id", j.id, "issues", summary.Total())
	m.emit(j, evt)
	return nil
}

// finish moves j to a terminal status if that edge is legal, cancels its
// context and emits the finished event.
func (m *Manager) finish(j *job, status models.JobStatus, msg string) bool {
	m.mu.Lock()
	if !models.CanTransition(j.info.Status, status) {
		m.mu.Unlock()
		return false
	}
	now := m.now().UTC()
	j.info.Status = status
	j.info.FinishedAt = &now
	if status == models.JobFailed {
		j.info.Error = msg
	}
	snap := m.snapshotLocked(j)
	evt := m.finishedEventLocked(j)
	m.mu.Unlock()

	m.persist(j, snap)
	j.cancel()
	m.emit(j, evt)
	return true
}

func (m *Manager) recordLocked(j *job) record {
	req := j.req
	return record{JobInfo: j.info.Clone(), Request: &req}
}

// snapshot is a job record tagged with the order it was taken in.
type snapshot struct {
	rec record
	seq uint64
}

func (m *Manager) snapshotLocked(j *job) snapshot {
	j.seq++
	return snapshot{rec: m.recordLocked(j), seq: j.seq}
}

// persist writes snap unless a newer snapshot of j already landed or j was
// swept.
func (m *Manager) persist(j *job, snap snapshot) {
	j.persistMu.Lock()
	defer j.persistMu.Unlock()
	if j.retired || snap.seq <= j.savedSeq {
		return
	}
	j.savedSeq = snap.seq
	if err := m.state.save(snap.rec); err != nil {
		slog.Warn("Failed to persist job state", "job_id", j.id, "error", err)
	}
}

func (m *Manager) progressEventLocked(j *job) Event {
	evt := Event{
		JobID:  j.id,
		Type:   EventProgress,
		Status: j.info.Status,
		Time:   m.now().UTC(),
	}
	if p := j.info.Progress; p != nil {
		evt.Phase = p.Phase
		evt.Percent = p.Percent
	}
	return evt
}

func (m *Manager) finishedEventLocked(j *job) Event {
	evt := m.progressEventLocked(j)
	evt.Type = EventFinished
	evt.Error = j.info.Error
	return evt
}
