package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/SuryaSriramD/CodeAgentTool/internal/config"
	"github.com/SuryaSriramD/CodeAgentTool/internal/jobs"
	"github.com/SuryaSriramD/CodeAgentTool/models"
)

// ReportLoader reads stored reports; *report.Store satisfies it.
type ReportLoader interface {
	Load(id string) (*models.Report, error)
}

// Dispatcher turns finished job events into notifications and fans them out
// to all configured channels. Delivery happens off the event callback path.
type Dispatcher struct {
	channels  []Channel
	reports   ReportLoader
	publicURL string

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher from the given config. Only channels
// with IsConfigured() == true are active.
func NewDispatcher(cfg config.NotifyConfig, reg *Registry, reports ReportLoader, publicURL string) *Dispatcher {
	return newDispatcher(reports, publicURL, NewSlack(cfg.Slack), NewWebhook(cfg.Webhook, reg))
}

func newDispatcher(reports ReportLoader, publicURL string, channels ...Channel) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		reports:   reports,
		publicURL: strings.TrimRight(publicURL, "/"),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, ch := range channels {
		if ch.IsConfigured() {
			d.channels = append(d.channels, ch)
		}
	}
	return d
}

// IsAnyConfigured returns true if at least one channel is ready to send.
func (d *Dispatcher) IsAnyConfigured() bool {
	return len(d.channels) > 0
}

// HandleJobEvent is a jobs.EventCallback. It returns immediately; delivery
// runs in the background until Close.
func (d *Dispatcher) HandleJobEvent(evt jobs.Event) {
	if evt.Type != jobs.EventFinished || len(d.channels) == 0 {
		return
	}
	n, ok := d.build(evt)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Notify(d.ctx, n)
	}()
}

// Notify sends evt to all configured channels. Errors are logged but never returned.
func (d *Dispatcher) Notify(ctx context.Context, evt Event) {
	for _, ch := range d.channels {
		if err := ch.Send(ctx, evt); err != nil {
			slog.Warn("notify: channel send failed", "channel", ch.Name(), "event", evt.Type, "job_id", evt.JobID, "error", err)
		}
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close aborts in-flight deliveries and waits for them to return.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) build(evt jobs.Event) (Event, bool) {
	typ, ok := eventFor(evt.Status)
	if !ok {
		return Event{}, false
	}
	n := Event{
		Type:   typ,
		JobID:  evt.JobID,
		Status: evt.Status,
		Error:  evt.Error,
	}
	if evt.Summary != nil {
		n.Summary = *evt.Summary
	}
	if evt.Status != models.JobCompleted || d.reports == nil {
		return n, true
	}
	n.ReportURL = d.publicURL + "/reports/" + evt.JobID
	rep, err := d.reports.Load(evt.JobID)
	if err != nil {
		slog.Warn("notify: report unavailable", "job_id", evt.JobID, "error", err)
		return n, true
	}
	n.Repo = rep.Meta.Repo
	if evt.Summary == nil {
		n.Summary = rep.Summary
	}
	return n, true
}
