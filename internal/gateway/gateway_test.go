package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SuryaSriramD/CodeAgentTool/internal/analyzer"
	"github.com/SuryaSriramD/CodeAgentTool/internal/config"
	"github.com/SuryaSriramD/CodeAgentTool/internal/jobs"
	"github.com/SuryaSriramD/CodeAgentTool/internal/metrics"
	"github.com/SuryaSriramD/CodeAgentTool/internal/notify"
	"github.com/SuryaSriramD/CodeAgentTool/internal/report"
	"github.com/SuryaSriramD/CodeAgentTool/models"
)

type fakeJobs struct {
	mu        sync.Mutex
	submitted []jobs.Request
	infos     map[string]models.JobInfo
	submitErr error
	cancelErr error
	rerunErr  error
	callbacks []jobs.EventCallback
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{infos: make(map[string]models.JobInfo)}
}

func (f *fakeJobs) Submit(_ context.Context, req jobs.Request) (string, models.JobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", models.JobInfo{}, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	id := fmt.Sprintf("job-%d", len(f.submitted))
	info := models.JobInfo{JobID: id, Status: models.JobQueued, SubmittedAt: time.Now().UTC()}
	f.infos[id] = info
	return id, info, nil
}

func (f *fakeJobs) Get(id string) (models.JobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.infos[id]
	if !ok {
		return models.JobInfo{}, jobs.ErrNotFound
	}
	return info, nil
}

func (f *fakeJobs) List(opts jobs.ListOptions) []models.JobInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.JobInfo
	for _, info := range f.infos {
		if opts.Status == "" || info.Status == opts.Status {
			out = append(out, info)
		}
	}
	return out
}

func (f *fakeJobs) Cancel(id string) error {
	if _, err := f.Get(id); err != nil {
		return err
	}
	return f.cancelErr
}

func (f *fakeJobs) Rerun(ctx context.Context, id string) (string, models.JobInfo, error) {
	if _, err := f.Get(id); err != nil {
		return "", models.JobInfo{}, err
	}
	if f.rerunErr != nil {
		return "", models.JobInfo{}, f.rerunErr
	}
	return f.Submit(ctx, jobs.Request{RepoURL: "https://github.com/acme/app"})
}

func (f *fakeJobs) RegisterEventCallback(fn jobs.EventCallback) {
	f.mu.Lock()
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}

func (f *fakeJobs) emit(evt jobs.Event) {
	f.mu.Lock()
	cbs := append([]jobs.EventCallback(nil), f.callbacks...)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(evt)
	}
}

type stubTool struct{ name string }

func (s stubTool) Name() string                          { return s.name }
func (s stubTool) Version(context.Context) string        { return "1.2.3" }
func (s stubTool) IsApplicable(*analyzer.Inventory) bool { return true }
func (s stubTool) Run(context.Context, string, analyzer.Options) models.AnalyzerResult {
	return models.AnalyzerResult{ToolName: s.name, Success: true}
}

type testEnv struct {
	gw      *Gateway
	jobs    *fakeJobs
	reports *report.Store
	hooks   *notify.Registry
	metrics *metrics.Collector
	handler http.Handler
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Fetch:  config.FetchConfig{MaxUploadBytes: 1 << 20},
		Server: config.ServerConfig{Addr: "127.0.0.1:0"},
	}
	if mutate != nil {
		mutate(cfg)
	}

	reg := analyzer.NewRegistry()
	require.NoError(t, reg.Register(stubTool{name: "bandit"}))
	require.NoError(t, reg.Register(stubTool{name: "semgrep"}))

	env := &testEnv{
		jobs:    newFakeJobs(),
		reports: report.NewStore(filepath.Join(t.TempDir(), "reports")),
		hooks:   notify.NewRegistry(),
		metrics: metrics.New(),
	}
	env.gw = New(cfg, Deps{
		Jobs:    env.jobs,
		Reports: env.reports,
		Tools:   reg,
		Settings: config.NewSettings(config.AnalyzerSettings{
			Defaults: []string{"bandit"},
			Rulesets: map[string][]string{"semgrep": {"p/owasp-top-ten"}},
		}),
		Webhooks: env.hooks,
		Metrics:  env.metrics,
		Version:  "test",
	})
	env.handler = env.gw.Handler()
	return env
}

func (e *testEnv) do(method, target string, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body), rr.Body.String())
	return body.Error
}

func multipartBody(t *testing.T, fields map[string]string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "src.zip")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealthAndTools(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var health healthResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)

	rr = env.do(http.MethodGet, "/tools", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var tools toolsResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&tools))
	assert.Equal(t, []string{"bandit", "semgrep"}, tools.Available)
	assert.Equal(t, []string{"bandit"}, tools.Default)
	assert.Equal(t, map[string]string{"bandit": "1.2.3", "semgrep": "1.2.3"}, tools.Versions)
}

func TestAnalyzeJSONQueuesJob(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/analyze", "/analyze-async"} {
		rr := env.do(http.MethodPost, path, `{
			"github_url": "https://github.com/acme/app",
			"ref": "main",
			"analyzers": "semgrep, bandit",
			"include": ["src/**"],
			"labels": "ci,nightly",
			"timeout_sec": 120
		}`)
		require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
		var resp analyzeResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, models.JobQueued, resp.Status)
		assert.Equal(t, "/jobs/"+resp.JobID, rr.Header().Get("Location"))
	}

	require.Len(t, env.jobs.submitted, 2)
	req := env.jobs.submitted[0]
	assert.Equal(t, "https://github.com/acme/app", req.RepoURL)
	assert.Equal(t, "main", req.Ref)
	assert.Equal(t, []string{"semgrep", "bandit"}, req.Analyzers)
	assert.Equal(t, []string{"src/**"}, req.Include)
	assert.Equal(t, []string{"ci", "nightly"}, req.Labels)
	assert.Equal(t, 120, req.TimeoutSec)
	assert.Nil(t, req.Archive)
}

func TestAnalyzeMultipartArchive(t *testing.T) {
	env := newTestEnv(t, nil)
	body, ct := multipartBody(t, map[string]string{"analyzers": "bandit", "exclude": "tests/**", "timeout_sec": "60"}, []byte("PK\x03\x04zip"))

	req := httptest.NewRequest(http.MethodPost, "/analyze-async", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	require.Len(t, env.jobs.submitted, 1)
	got := env.jobs.submitted[0]
	assert.Equal(t, []byte("PK\x03\x04zip"), got.Archive)
	assert.Equal(t, "src.zip", got.ArchiveName)
	assert.Equal(t, []string{"bandit"}, got.Analyzers)
	assert.Equal(t, []string{"tests/**"}, got.Exclude)
	assert.Equal(t, 60, got.TimeoutSec)
}

func TestAnalyzeRejectsOversizedUpload(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Fetch.MaxUploadBytes = 16 })
	body, ct := multipartBody(t, nil, bytes.Repeat([]byte("x"), 64))

	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, codePayloadTooLarge, decodeError(t, rr).Code)
	assert.Empty(t, env.jobs.submitted)
}

func TestAnalyzeInputErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodPost, "/analyze", `{"github_url": 5}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, codeInvalidInput, decodeError(t, rr).Code)

	rr = env.do(http.MethodPost, "/analyze", `{"unknown": true}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	env.jobs.submitErr = fmt.Errorf("%w: exactly one of github_url or file is required", jobs.ErrInvalidRequest)
	rr = env.do(http.MethodPost, "/analyze", `{}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	e := decodeError(t, rr)
	assert.Equal(t, codeInvalidInput, e.Code)
	assert.Contains(t, e.Message, "exactly one of github_url or file")

	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

func TestSubmissionsAreRateLimited(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Server.SubmitRate = 0.001
		c.Server.SubmitBurst = 1
	})
	body := `{"github_url": "https://github.com/acme/app"}`

	require.Equal(t, http.StatusAccepted, env.do(http.MethodPost, "/analyze", body).Code)
	rr := env.do(http.MethodPost, "/analyze", body)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, codeRateLimit, decodeError(t, rr).Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/jobs", "").Code)
}

func TestJobEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	env.jobs.infos["a"] = models.JobInfo{JobID: "a", Status: models.JobCompleted}
	env.jobs.infos["b"] = models.JobInfo{JobID: "b", Status: models.JobRunning}

	rr := env.do(http.MethodGet, "/jobs/a", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"completed"`)

	rr = env.do(http.MethodGet, "/jobs/missing", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, codeNotFound, decodeError(t, rr).Code)

	rr = env.do(http.MethodGet, "/jobs?status=running", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list listJobsResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "b", list.Items[0].JobID)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/jobs?status=bogus", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/jobs?limit=-1", "").Code)

	rr = env.do(http.MethodDelete, "/jobs/b", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"canceled"`)

	env.jobs.cancelErr = fmt.Errorf("%w: job a is already finished", jobs.ErrConflict)
	rr = env.do(http.MethodDelete, "/jobs/a", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, codeConflict, decodeError(t, rr).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/jobs/missing", "").Code)

	rr = env.do(http.MethodPost, "/jobs/a/rerun", "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Contains(t, rr.Body.String(), `"job_id":"job-1"`)

	env.jobs.rerunErr = fmt.Errorf("%w: job b is still running", jobs.ErrConflict)
	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/jobs/b/rerun", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/jobs/missing/rerun", "").Code)
}

func saveReport(t *testing.T, s *report.Store, id, url string, at time.Time, sev models.Severity) {
	t.Helper()
	b := report.NewBuilder("/ws")
	b.AddResult(models.AnalyzerResult{
		ToolName: "bandit",
		Success:  true,
		Issues: []models.Issue{{
			Tool:     "bandit",
			File:     "app.py",
			Line:     3,
			Severity: sev,
		}},
	})
	r := b.Build(id, models.RepoInfo{Source: "github", URL: url}, []string{"ci"}, at.Add(-time.Second), at)
	require.NoError(t, s.Save(&r))
}

func TestReportEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	saveReport(t, env.reports, "r1", "https://github.com/acme/app", t0, models.SeverityHigh)
	saveReport(t, env.reports, "r2", "https://github.com/acme/lib", t0.Add(time.Hour), models.SeverityLow)

	rr := env.do(http.MethodGet, "/reports?severity=high", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var page report.Page
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&page))
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "r1", page.Items[0].JobID)

	rr = env.do(http.MethodGet, "/reports?since=2026-05-01T12:30:00Z&limit=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&page))
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "r2", page.Items[0].JobID)

	for _, q := range []string{"severity=urgent", "since=yesterday", "page=0", "page=46116860184273880&limit=200"} {
		assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/reports?"+q, "").Code, q)
	}

	rr = env.do(http.MethodGet, "/reports/r1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"job_id":"r1"`)

	rr = env.do(http.MethodGet, "/reports/r1/summary", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var sum summaryResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&sum))
	assert.Equal(t, summaryResponse{JobID: "r1", Summary: models.SeveritySummary{High: 1}}, sum)

	rr = env.do(http.MethodGet, "/reports/nope", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "report not found", decodeError(t, rr).Message)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/reports/nope/summary", "").Code)
}

func TestEnhancedReport(t *testing.T) {
	env := newTestEnv(t, nil)
	saveReport(t, env.reports, "r1", "https://github.com/acme/app", time.Now().UTC(), models.SeverityMedium)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/reports/r1/enhanced", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, "/reports/r1/enhanced", "{not json").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPut, "/reports/nope/enhanced", `{"a":1}`).Code)

	rr := env.do(http.MethodPut, "/reports/r1/enhanced", `{"fixes":[{"file":"app.py"}]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(http.MethodGet, "/reports/r1/enhanced", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"fixes":[{"file":"app.py"}]}`, rr.Body.String())
}

func TestWebhookEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodPost, "/webhooks/register", `{"url":"https://hooks.example.com/x","events":["report.created"],"secret":"s"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	id := created["id"]
	require.NotEmpty(t, id)
	require.Len(t, env.hooks.List(), 1)

	rr = env.do(http.MethodGet, "/webhooks", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), `"secret"`)

	rr = env.do(http.MethodPost, "/webhooks/register", `{"url":"not a url"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, codeInvalidInput, decodeError(t, rr).Code)

	assert.Equal(t, http.StatusOK, env.do(http.MethodDelete, "/webhooks/"+id, "").Code)
	rr = env.do(http.MethodDelete, "/webhooks/"+id, "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, codeNotFound, decodeError(t, rr).Code)
}

func TestAnalyzerConfigEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodPatch, "/config/analyzers", `{"defaults":["semgrep"],"rulesets":{"bandit":["B101"]},"allow_list":["https://gitlab.com/"]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(http.MethodGet, "/config/analyzers", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got config.AnalyzerSettings
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, []string{"semgrep"}, got.Defaults)
	assert.Equal(t, []string{"B101"}, got.Rulesets["bandit"])
	assert.Equal(t, []string{"p/owasp-top-ten"}, got.Rulesets["semgrep"])
	assert.Equal(t, []string{"https://gitlab.com/"}, got.AllowList)

	for _, body := range []string{
		`{"defaults":["gosec"]}`,
		`{"allowed_analyzers":["nope"]}`,
		`{"rulesets":{"semgrep":[""]}}`,
		`{"allow_list":["ftp://x"]}`,
		`{"max_workers":3}`,
	} {
		rr := env.do(http.MethodPatch, "/config/analyzers", body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
}

func TestEventsStreamEndsAfterFinished(t *testing.T) {
	env := newTestEnv(t, nil)
	env.jobs.infos["j1"] = models.JobInfo{JobID: "j1", Status: models.JobRunning}

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events/j1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return env.gw.broadcaster.subscribers("j1") == 1 }, time.Second, 5*time.Millisecond)

	env.jobs.emit(jobs.Event{JobID: "other", Type: jobs.EventFinished, Status: models.JobCompleted})
	env.jobs.emit(jobs.Event{JobID: "j1", Type: jobs.EventProgress, Status: models.JobRunning, Phase: models.PhaseMerge, Percent: 85})
	env.jobs.emit(jobs.Event{JobID: "j1", Type: jobs.EventFinished, Status: models.JobCompleted})

	var names []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			names = append(names, name)
		}
	}
	assert.Equal(t, []string{"snapshot", "progress", "finished"}, names)
	assert.Eventually(t, func() bool { return env.gw.broadcaster.subscribers("j1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestEventsForFinishedJobSendsSnapshotOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	env.jobs.infos["done"] = models.JobInfo{JobID: "done", Status: models.JobFailed, Error: "boom"}

	rr := env.do(http.MethodGet, "/events/done", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Body.String(), "event: snapshot\ndata: "))
	assert.Contains(t, rr.Body.String(), `"error":"boom"`)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/events/missing", "").Code)
}

func TestBroadcasterKeepsFinishedFrameForSlowClient(t *testing.T) {
	b := newBroadcaster()
	ch := b.subscribe("j")
	for i := 0; i < subscriberBuffer+10; i++ {
		b.send(jobs.Event{JobID: "j", Type: jobs.EventProgress, Percent: i})
	}
	b.send(jobs.Event{JobID: "j", Type: jobs.EventFinished, Status: models.JobCompleted})

	var last sseFrame
	for len(ch) > 0 {
		last = <-ch
	}
	assert.True(t, last.final)

	b.close()
	_, ok := <-ch
	assert.False(t, ok)
	closed := b.subscribe("k")
	_, ok = <-closed
	assert.False(t, ok)
}

func TestMetricsAndUnknownRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodGet, "/nowhere", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, codeNotFound, decodeError(t, rr).Code)

	env.do(http.MethodGet, "/jobs/x", "")
	rr = env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `codeagent_http_requests_total{code="404",method="GET",route="/jobs/{id}"} 1`)
}
