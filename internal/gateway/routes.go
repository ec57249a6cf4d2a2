package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func buildHandler(gw *Gateway) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(gw.observe)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeInvalidInput, "method not allowed")
	})

	// Health / tools
	r.Get("/health", gw.handleHealth)
	r.Get("/tools", gw.handleTools)

	// Submission
	r.Group(func(r chi.Router) {
		r.Use(gw.limitSubmissions)
		r.Post("/analyze", gw.handleAnalyze)
		r.Post("/analyze-async", gw.handleAnalyze)
		r.Post("/jobs/{id}/rerun", gw.handleRerunJob)
	})

	// Jobs
	r.Get("/jobs", gw.handleListJobs)
	r.Get("/jobs/{id}", gw.handleGetJob)
	r.Delete("/jobs/{id}", gw.handleCancelJob)

	// Reports
	r.Get("/reports", gw.handleListReports)
	r.Get("/reports/{id}", gw.handleGetReport)
	r.Get("/reports/{id}/summary", gw.handleReportSummary)
	r.Get("/reports/{id}/enhanced", gw.handleGetEnhanced)
	r.Put("/reports/{id}/enhanced", gw.handlePutEnhanced)

	// Server-Sent Events stream
	r.Get("/events/{id}", gw.handleEvents)

	// Webhooks
	r.Get("/webhooks", gw.handleListWebhooks)
	r.Post("/webhooks/register", gw.handleRegisterWebhook)
	r.Delete("/webhooks/{id}", gw.handleDeleteWebhook)

	// Config management
	r.Get("/config/analyzers", gw.handleGetAnalyzerConfig)
	r.Patch("/config/analyzers", gw.handlePatchAnalyzerConfig)

	if gw.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", gw.deps.Metrics.Handler())
	}
	return r
}

// observe logs each request and records it in the metrics collector.
func (gw *Gateway) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			elapsed := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := ""
			if rc := chi.RouteContext(r.Context()); rc != nil {
				route = rc.RoutePattern()
			}
			slog.Debug("Request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status", status,
				"duration", elapsed,
				"request_id", middleware.GetReqID(r.Context()),
			)
			if gw.deps.Metrics != nil {
				gw.deps.Metrics.ObserveRequest(route, r.Method, status, elapsed)
			}
		}()

		next.ServeHTTP(ww, r)
	})
}

// limitSubmissions rejects job submissions beyond the configured rate.
func (gw *Gateway) limitSubmissions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gw.limiter != nil && !gw.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, codeRateLimit, "too many submissions, retry later")
			return
		}
		next.ServeHTTP(w, r)
	})
}
