package gateway

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/SuryaSriramD/CodeAgentTool/internal/jobs"
	"github.com/SuryaSriramD/CodeAgentTool/models"
)

// multipartOverhead is allowed on top of the archive limit for form fields
// and part headers.
const multipartOverhead = 1 << 20

type analyzeBody struct {
	GithubURL  string  `json:"github_url"`
	Ref        string  `json:"ref"`
	Commit     string  `json:"commit"`
	Include    csvList `json:"include"`
	Exclude    csvList `json:"exclude"`
	Analyzers  csvList `json:"analyzers"`
	TimeoutSec int     `json:"timeout_sec"`
	Labels     csvList `json:"labels"`
}

type analyzeResponse struct {
	JobID  string           `json:"job_id"`
	Status models.JobStatus `json:"status"`
}

// handleAnalyze serves POST /analyze and POST /analyze-async. Both accept a
// JSON body or a multipart form and queue a job.
func (gw *Gateway) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	req, ok := gw.parseAnalyze(w, r)
	if !ok {
		return
	}
	id, info, err := gw.deps.Jobs.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+id)
	writeJSON(w, http.StatusAccepted, analyzeResponse{JobID: id, Status: info.Status})
}

func (gw *Gateway) parseAnalyze(w http.ResponseWriter, r *http.Request) (jobs.Request, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data", "application/x-www-form-urlencoded":
		return gw.parseAnalyzeForm(w, r)
	case "", "application/json":
		var body analyzeBody
		if !decodeJSON(w, r, &body) {
			return jobs.Request{}, false
		}
		return jobs.Request{
			RepoURL:    body.GithubURL,
			Ref:        body.Ref,
			Commit:     body.Commit,
			Include:    body.Include,
			Exclude:    body.Exclude,
			Analyzers:  body.Analyzers,
			TimeoutSec: body.TimeoutSec,
			Labels:     body.Labels,
		}, true
	default:
		writeError(w, http.StatusUnsupportedMediaType, codeInvalidInput,
			"content type must be application/json or multipart/form-data")
		return jobs.Request{}, false
	}
}

func (gw *Gateway) parseAnalyzeForm(w http.ResponseWriter, r *http.Request) (jobs.Request, bool) {
	limit := gw.maxUpload + multipartOverhead
	if r.ContentLength > limit {
		writeError(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge,
			fmt.Sprintf("upload exceeds %d bytes", gw.maxUpload))
		return jobs.Request{}, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		err = r.ParseMultipartForm(32 << 20)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", gw.maxUpload))
			return jobs.Request{}, false
		}
		writeError(w, http.StatusBadRequest, codeInvalidInput, "invalid form: "+err.Error())
		return jobs.Request{}, false
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	req := jobs.Request{
		RepoURL:   r.FormValue("github_url"),
		Ref:       r.FormValue("ref"),
		Commit:    r.FormValue("commit"),
		Include:   splitCSV(r.FormValue("include")),
		Exclude:   splitCSV(r.FormValue("exclude")),
		Analyzers: splitCSV(r.FormValue("analyzers")),
		Labels:    splitCSV(r.FormValue("labels")),
	}
	if v := strings.TrimSpace(r.FormValue("timeout_sec")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidInput, "timeout_sec must be an integer")
			return jobs.Request{}, false
		}
		req.TimeoutSec = n
	}

	if r.MultipartForm == nil || len(r.MultipartForm.File["file"]) == 0 {
		return req, true
	}
	fh := r.MultipartForm.File["file"][0]
	if fh.Size > gw.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge,
			fmt.Sprintf("file too large, max size %d bytes", gw.maxUpload))
		return jobs.Request{}, false
	}
	f, err := fh.Open()
	if err != nil {
		writeServiceError(w, r, fmt.Errorf("opening upload: %w", err))
		return jobs.Request{}, false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeServiceError(w, r, fmt.Errorf("reading upload: %w", err))
		return jobs.Request{}, false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "uploaded file is empty")
		return jobs.Request{}, false
	}
	req.Archive = data
	req.ArchiveName = fh.Filename
	return req, true
}
