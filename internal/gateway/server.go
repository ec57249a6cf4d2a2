// Package gateway serves the scanner's HTTP API: job submission and control,
// report retrieval, per-job SSE streams, webhook registration and live
// analyzer configuration.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/SuryaSriramD/CodeAgentTool/internal/analyzer"
	"github.com/SuryaSriramD/CodeAgentTool/internal/config"
	"github.com/SuryaSriramD/CodeAgentTool/internal/jobs"
	"github.com/SuryaSriramD/CodeAgentTool/internal/metrics"
	"github.com/SuryaSriramD/CodeAgentTool/internal/notify"
	"github.com/SuryaSriramD/CodeAgentTool/internal/report"
	"github.com/SuryaSriramD/CodeAgentTool/models"
)

const defaultMaxUpload = 100 << 20

// JobService is the part of jobs.Manager the API drives.
type JobService interface {
	Submit(ctx context.Context, req jobs.Request) (string, models.JobInfo, error)
	Get(id string) (models.JobInfo, error)
	List(opts jobs.ListOptions) []models.JobInfo
	Cancel(id string) error
	Rerun(ctx context.Context, id string) (string, models.JobInfo, error)
	RegisterEventCallback(fn jobs.EventCallback)
}

// Deps are the collaborators the API serves from.
type Deps struct {
	Jobs     JobService
	Reports  *report.Store
	Tools    *analyzer.Registry
	Settings *config.Settings
	Webhooks *notify.Registry
	// Metrics is optional; when nil /metrics is not mounted.
	Metrics *metrics.Collector
	Version string
}

// Gateway is the HTTP control plane in front of the job manager.
type Gateway struct {
	cfg         config.ServerConfig
	deps        Deps
	maxUpload   int64
	limiter     *rate.Limiter
	broadcaster *Broadcaster
	startedAt   time.Time
}

// New creates a Gateway and subscribes its SSE broadcaster to job events.
func New(cfg *config.Config, deps Deps) *Gateway {
	gw := &Gateway{
		cfg:         cfg.Server,
		deps:        deps,
		maxUpload:   cfg.Fetch.MaxUploadBytes,
		broadcaster: newBroadcaster(),
		startedAt:   time.Now(),
	}
	if gw.maxUpload <= 0 {
		gw.maxUpload = defaultMaxUpload
	}
	if cfg.Server.SubmitRate > 0 {
		burst := cfg.Server.SubmitBurst
		if burst <= 0 {
			burst = 1
		}
		gw.limiter = rate.NewLimiter(rate.Limit(cfg.Server.SubmitRate), burst)
	}
	if deps.Webhooks == nil {
		gw.deps.Webhooks = notify.NewRegistry()
	}
	if deps.Jobs != nil {
		deps.Jobs.RegisterEventCallback(gw.broadcaster.send)
	}
	return gw
}

// Handler returns the routed HTTP handler.
func (gw *Gateway) Handler() http.Handler {
	return buildHandler(gw)
}

// Start serves on addr until ctx is cancelled.
func (gw *Gateway) Start(ctx context.Context, addr string) error {
	if addr == "" {
		addr = gw.cfg.Addr
	}
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		gw.broadcaster.close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("gateway: shutdown", "error", err)
		}
	}()

	slog.Info("gateway: listening", "addr", "http://"+addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
