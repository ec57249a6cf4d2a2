// Package metrics exposes Prometheus collectors for jobs, analyzers and the
// HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SuryaSriramD/CodeAgentTool/internal/jobs"
	"github.com/SuryaSriramD/CodeAgentTool/models"
)

const namespace = "codeagent"

// Collector owns every collector on its own registry.
type Collector struct {
	registry *prometheus.Registry

	// Job metrics
	JobsSubmitted prometheus.Counter
	JobsFinished  *prometheus.CounterVec
	ActiveJobs    prometheus.Gauge
	JobDuration   *prometheus.HistogramVec
	IssuesFound   *prometheus.CounterVec

	// Analyzer metrics
	AnalyzerRuns     *prometheus.CounterVec
	AnalyzerDuration *prometheus.HistogramVec
	AnalyzerIssues   *prometheus.CounterVec

	// HTTP metrics
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	mu      sync.Mutex
	started map[string]time.Time
	seen    map[string]bool
	now     func() time.Time
}

// New creates a Collector registered on a fresh registry alongside the Go
// runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		started:  make(map[string]time.Time),
		seen:     make(map[string]bool),
		now:      time.Now,

		JobsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of accepted scan jobs",
		}),
		JobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs reaching a terminal state",
		}, []string{"status"}),
		ActiveJobs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Number of jobs currently running",
		}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from job start to its terminal state",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"status"}),
		IssuesFound: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issues_found_total",
			Help:      "Issues in completed reports by severity",
		}, []string{"severity"}),

		AnalyzerRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyzer_runs_total",
			Help:      "Analyzer invocations by tool and outcome",
		}, []string{"tool", "outcome"}),
		AnalyzerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analyzer_duration_seconds",
			Help:      "Time taken by each analyzer invocation",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"tool"}),
		AnalyzerIssues: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyzer_issues_total",
			Help:      "Issues reported by each analyzer",
		}, []string{"tool"}),

		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status code",
		}, []string{"route", "method", "code"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Registry returns the registry backing c.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveJobEvent is a jobs.EventCallback.
func (c *Collector) ObserveJobEvent(evt jobs.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch evt.Type {
	case jobs.EventProgress:
		if !c.seen[evt.JobID] {
			c.seen[evt.JobID] = true
			c.JobsSubmitted.Inc()
		}
		if evt.Status == models.JobRunning {
			if _, ok := c.started[evt.JobID]; !ok {
				c.started[evt.JobID] = c.eventTime(evt)
				c.ActiveJobs.Inc()
			}
		}
	case jobs.EventFinished:
		if !c.seen[evt.JobID] {
			c.JobsSubmitted.Inc()
		}
		delete(c.seen, evt.JobID)
		status := string(evt.Status)
		c.JobsFinished.WithLabelValues(status).Inc()
		if start, ok := c.started[evt.JobID]; ok {
			c.JobDuration.WithLabelValues(status).Observe(c.eventTime(evt).Sub(start).Seconds())
			c.ActiveJobs.Dec()
			delete(c.started, evt.JobID)
		}
		if evt.Status == models.JobCompleted && evt.Summary != nil {
			for _, sev := range models.Severities {
				if n := evt.Summary.Count(sev); n > 0 {
					c.IssuesFound.WithLabelValues(string(sev)).Add(float64(n))
				}
			}
		}
	}
}

func (c *Collector) eventTime(evt jobs.Event) time.Time {
	if evt.Time.IsZero() {
		return c.now()
	}
	return evt.Time
}

// ObserveAnalyzerResult is an analyzer.Engine result hook.
func (c *Collector) ObserveAnalyzerResult(_ string, res models.AnalyzerResult) {
	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	c.AnalyzerRuns.WithLabelValues(res.ToolName, outcome).Inc()
	c.AnalyzerDuration.WithLabelValues(res.ToolName).Observe(float64(res.DurationMs) / 1000)
	if len(res.Issues) > 0 {
		c.AnalyzerIssues.WithLabelValues(res.ToolName).Add(float64(len(res.Issues)))
	}
}

// ObserveRequest records one served HTTP request.
func (c *Collector) ObserveRequest(route, method string, code int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	c.Requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	c.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
