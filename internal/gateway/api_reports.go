package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/SuryaSriramD/CodeAgentTool/internal/report"
	"github.com/SuryaSriramD/CodeAgentTool/models"
)

const (
	defaultReportPageSize = 20
	maxReportPageSize     = 200
	maxEnhancedBody       = 16 << 20
	maxReportPage         = math.MaxInt / maxReportPageSize
)

func (gw *Gateway) handleListReports(w http.ResponseWriter, r *http.Request) {
	f, err := parseReportFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	}
	page, err := gw.deps.Reports.List(f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func parseReportFilter(r *http.Request) (report.Filter, error) {
	q := r.URL.Query()
	page, err := queryInt(r, "page", 1)
	if err != nil {
		return report.Filter{}, err
	}
	if page > maxReportPage {
		return report.Filter{}, fmt.Errorf("page must be at most %d", maxReportPage)
	}
	limit, err := queryInt(r, "limit", defaultReportPageSize)
	if err != nil {
		return report.Filter{}, err
	}
	f := report.Filter{
		Page:  page,
		Limit: min(limit, maxReportPageSize),
		Tool:  strings.TrimSpace(q.Get("tool")),
		Repo:  strings.TrimSpace(q.Get("repo")),
		Label: strings.TrimSpace(q.Get("label")),
	}
	if s := strings.TrimSpace(q.Get("severity")); s != "" {
		sev := models.Severity(strings.ToLower(s))
		if !sev.Valid() {
			return report.Filter{}, fmt.Errorf("unknown severity %q", s)
		}
		f.Severity = sev
	}
	if f.Since, err = parseTimeParam(q.Get("since"), "since"); err != nil {
		return report.Filter{}, err
	}
	if f.Until, err = parseTimeParam(q.Get("until"), "until"); err != nil {
		return report.Filter{}, err
	}
	return f, nil
}

// parseTimeParam accepts RFC 3339 timestamps or YYYY-MM-DD dates.
func parseTimeParam(v, name string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp or YYYY-MM-DD date", name)
}

func (gw *Gateway) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := gw.deps.Reports.Load(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type summaryResponse struct {
	JobID   string                 `json:"job_id"`
	Summary models.SeveritySummary `json:"summary"`
}

func (gw *Gateway) handleReportSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sum, err := gw.deps.Reports.Summary(id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{JobID: id, Summary: sum})
}

func (gw *Gateway) handleGetEnhanced(w http.ResponseWriter, r *http.Request) {
	raw, err := gw.deps.Reports.LoadEnhanced(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, report.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "enhanced report not found")
			return
		}
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (gw *Gateway) handlePutEnhanced(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEnhancedBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge,
				fmt.Sprintf("enhanced report exceeds %d bytes", maxEnhancedBody))
			return
		}
		writeError(w, http.StatusBadRequest, codeInvalidInput, "reading body: "+err.Error())
		return
	}
	if !json.Valid(raw) {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "enhanced report must be valid JSON")
		return
	}
	if err := gw.deps.Reports.SaveEnhanced(id, raw); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "stored": true})
}
