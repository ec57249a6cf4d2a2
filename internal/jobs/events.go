package jobs

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/SuryaSriramD/CodeAgentTool/models"
)

// EventType distinguishes lifecycle notifications.
type EventType string

const (
	EventProgress EventType = "progress"
	EventFinished EventType = "finished"
)

// DefaultCallbackTimeout bounds a single callback invocation.
const DefaultCallbackTimeout = 5 * time.Second

// Event is delivered to registered callbacks. Per job, progress events
// arrive in phase order and exactly one finished event arrives last.
type Event struct {
	JobID   string                  `json:"job_id"`
	Type    EventType               `json:"type"`
	Phase   models.Phase            `json:"phase,omitempty"`
	Percent int                     `json:"percent"`
	Status  models.JobStatus        `json:"status"`
	Summary *models.SeveritySummary `json:"summary,omitempty"`
	Error   string                  `json:"error,omitempty"`
	Time    time.Time               `json:"time"`
}

// EventCallback observes lifecycle events. Callbacks run synchronously with
// respect to one job's events but are isolated from each other: a panic is
// logged and a slow callback is abandoned after the callback timeout.
type EventCallback func(Event)

type emitter struct {
	mu        sync.RWMutex
	callbacks []EventCallback
	timeout   time.Duration
}

func newEmitter(timeout time.Duration) *emitter {
	if timeout <= 0 {
		timeout = DefaultCallbackTimeout
	}
	return &emitter{timeout: timeout}
}

func (e *emitter) register(fn EventCallback) {
	e.mu.Lock()
	e.callbacks = append(e.callbacks, fn)
	e.mu.Unlock()
}

func (e *emitter) deliver(evt Event) {
	e.mu.RLock()
	cbs := append([]EventCallback(nil), e.callbacks...)
	e.mu.RUnlock()

	for i, cb := range cbs {
		e.invoke(i, cb, evt)
	}
}

func (e *emitter) invoke(idx int, cb EventCallback, evt Event) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Event callback panicked",
					"callback", idx,
					"job_id", evt.JobID,
					"event", evt.Type,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		cb(evt)
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		slog.Warn("Event callback timed out",
			"callback", idx,
			"job_id", evt.JobID,
			"event", evt.Type,
			"timeout", e.timeout,
		)
	}
}

// emit sends evt for j. Once j's finished event has gone out every later
// event for j is dropped.
func (m *Manager) emit(j *job, evt Event) {
	j.emitMu.Lock()
	defer j.emitMu.Unlock()
	if j.finishedSent {
		return
	}
	if evt.Type == EventFinished {
		j.finishedSent = true
	}
	m.events.deliver(evt)
}
