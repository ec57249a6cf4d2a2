package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/SuryaSriramD/CodeAgentTool/internal/jobs"
	"github.com/SuryaSriramD/CodeAgentTool/models"
)

type listJobsResponse struct {
	Items []models.JobInfo `json:"items"`
	Total int              `json:"total"`
}

func (gw *Gateway) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	}
	opts := jobs.ListOptions{Limit: limit}
	if s := r.URL.Query().Get("status"); s != "" {
		opts.Status = models.JobStatus(s)
		if !validStatus(opts.Status) {
			writeError(w, http.StatusBadRequest, codeInvalidInput, "unknown status "+s)
			return
		}
	}
	items := gw.deps.Jobs.List(opts)
	if items == nil {
		items = []models.JobInfo{}
	}
	writeJSON(w, http.StatusOK, listJobsResponse{Items: items, Total: len(items)})
}

func validStatus(s models.JobStatus) bool {
	switch s {
	case models.JobQueued, models.JobRunning, models.JobCompleted,
		models.JobFailed, models.JobCanceled, models.JobExpired:
		return true
	}
	return false
}

func (gw *Gateway) handleGetJob(w http.ResponseWriter, r *http.Request) {
	info, err := gw.deps.Jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (gw *Gateway) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := gw.deps.Jobs.Cancel(id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analyzeResponse{JobID: id, Status: models.JobCanceled})
}

func (gw *Gateway) handleRerunJob(w http.ResponseWriter, r *http.Request) {
	newID, info, err := gw.deps.Jobs.Rerun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+newID)
	writeJSON(w, http.StatusAccepted, analyzeResponse{JobID: newID, Status: info.Status})
}
