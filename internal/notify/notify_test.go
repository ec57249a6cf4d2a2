package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SuryaSriramD/CodeAgentTool/internal/config"
	"github.com/SuryaSriramD/CodeAgentTool/internal/jobs"
	"github.com/SuryaSriramD/CodeAgentTool/models"
)

type fakeReports map[string]*models.Report

func (f fakeReports) Load(id string) (*models.Report, error) {
	if r, ok := f[id]; ok {
		return r, nil
	}
	return nil, errors.New("not found")
}

type received struct {
	headers http.Header
	body    []byte
}

type sink struct {
	mu    sync.Mutex
	got   []received
	calls atomic.Int32
	codes []int
}

func (s *sink) handler(w http.ResponseWriter, r *http.Request) {
	n := int(s.calls.Add(1))
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.got = append(s.got, received{headers: r.Header.Clone(), body: body})
	s.mu.Unlock()
	code := http.StatusOK
	if n <= len(s.codes) {
		code = s.codes[n-1]
	}
	w.WriteHeader(code)
}

func (s *sink) last(t *testing.T) received {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.got)
	return s.got[len(s.got)-1]
}

func fastWebhook(reg *Registry) *WebhookChannel {
	w := NewWebhook(config.WebhookNotifyConfig{Timeout: time.Second}, reg)
	w.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(5*time.Millisecond), 4)
	}
	return w
}

func finished(id string, status models.JobStatus, sum *models.SeveritySummary) jobs.Event {
	return jobs.Event{JobID: id, Type: jobs.EventFinished, Status: status, Summary: sum, Time: time.Now()}
}

func TestRegistryRegisterListDelete(t *testing.T) {
	reg := NewRegistry()
	a, err := reg.Register(" https://hooks.example.com/a ", nil, "s3cret")
	require.NoError(t, err)
	assert.Regexp(t, `^wh_[0-9a-f]{8}$`, a.ID)
	assert.Equal(t, "https://hooks.example.com/a", a.URL)
	assert.Equal(t, []string{EventReportCreated}, a.Events)
	assert.True(t, a.Active)
	assert.True(t, a.HasSecret)

	b, err := reg.Register("http://hooks.example.com/b", []string{EventJobFailed, EventJobFailed}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{EventJobFailed}, b.Events)

	assert.Len(t, reg.List(), 2)
	assert.Equal(t, []Webhook{a}, reg.Subscribed(EventReportCreated))

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "s3cret")

	require.NoError(t, reg.Delete(a.ID))
	assert.ErrorIs(t, reg.Delete(a.ID), ErrWebhookNotFound)
	assert.Empty(t, reg.Subscribed(EventReportCreated))
}

func TestRegistryRejectsInvalidInput(t *testing.T) {
	reg := NewRegistry()
	for _, tc := range []struct {
		url    string
		events []string
	}{
		{"", nil},
		{"ftp://example.com/x", nil},
		{"/relative", nil},
		{"https://example.com", []string{"report.deleted"}},
	} {
		_, err := reg.Register(tc.url, tc.events, "")
		assert.ErrorIs(t, err, ErrInvalidWebhook, tc.url)
	}
	assert.Empty(t, reg.List())
}

func TestWebhookDeliversSignedReportCreated(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	reg := NewRegistry()
	_, err := reg.Register(srv.URL, []string{EventReportCreated}, "topsecret")
	require.NoError(t, err)
	_, err = reg.Register(srv.URL+"/failures", []string{EventJobFailed}, "")
	require.NoError(t, err)

	repo := models.RepoInfo{Source: "github", URL: "https://github.com/acme/app", Commit: "abc1234"}
	reports := fakeReports{"job-1": {JobID: "job-1", Meta: models.ReportMeta{Repo: repo}}}
	d := newDispatcher(reports, "http://scanner.local/", fastWebhook(reg))
	defer d.Close()

	d.HandleJobEvent(finished("job-1", models.JobCompleted, &models.SeveritySummary{High: 2, Low: 1}))
	d.Wait()

	require.EqualValues(t, 1, s.calls.Load())
	got := s.last(t)
	assert.Equal(t, EventReportCreated, got.headers.Get("X-Event"))
	assert.Equal(t, "application/json", got.headers.Get("Content-Type"))
	assert.Equal(t, Sign("topsecret", got.body), got.headers.Get("X-Signature"))

	var p map[string]any
	require.NoError(t, json.Unmarshal(got.body, &p))
	assert.Equal(t, "job-1", p["job_id"])
	assert.Equal(t, "http://scanner.local/reports/job-1", p["report_url"])
	assert.Equal(t, "https://github.com/acme/app", p["repo"].(map[string]any)["url"])
	assert.EqualValues(t, 2, p["summary"].(map[string]any)["high"])
}

func TestWebhookUnsignedWithoutSecret(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	reg := NewRegistry()
	_, err := reg.Register(srv.URL, nil, "")
	require.NoError(t, err)

	require.NoError(t, fastWebhook(reg).Send(context.Background(), Event{Type: EventReportCreated, JobID: "j"}))
	assert.Empty(t, s.last(t).headers.Get("X-Signature"))
}

func TestWebhookRetriesTransientFailures(t *testing.T) {
	s := &sink{codes: []int{http.StatusServiceUnavailable, http.StatusTooManyRequests}}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	reg := NewRegistry()
	_, err := reg.Register(srv.URL, nil, "")
	require.NoError(t, err)

	require.NoError(t, fastWebhook(reg).Send(context.Background(), Event{Type: EventReportCreated, JobID: "j"}))
	assert.EqualValues(t, 3, s.calls.Load())
}

func TestWebhookClientErrorIsPermanent(t *testing.T) {
	s := &sink{codes: []int{http.StatusBadRequest}}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	reg := NewRegistry()
	wh, err := reg.Register(srv.URL, nil, "")
	require.NoError(t, err)

	err = fastWebhook(reg).Send(context.Background(), Event{Type: EventReportCreated, JobID: "j"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), wh.ID)
	assert.Contains(t, err.Error(), "400")
	assert.EqualValues(t, 1, s.calls.Load())
}

func TestWebhookGivesUpAfterRetries(t *testing.T) {
	s := &sink{codes: []int{500, 500, 500, 500, 500, 500, 500, 500}}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	reg := NewRegistry()
	_, err := reg.Register(srv.URL, nil, "")
	require.NoError(t, err)

	err = fastWebhook(reg).Send(context.Background(), Event{Type: EventReportCreated, JobID: "j"})
	require.Error(t, err)
	assert.EqualValues(t, 5, s.calls.Load())
}

func TestDispatcherSkipsUnsubscribedAndProgressEvents(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	reg := NewRegistry()
	_, err := reg.Register(srv.URL, []string{EventJobFailed}, "")
	require.NoError(t, err)

	d := newDispatcher(fakeReports{}, "", fastWebhook(reg))
	defer d.Close()

	d.HandleJobEvent(jobs.Event{JobID: "j", Type: jobs.EventProgress, Status: models.JobRunning})
	d.HandleJobEvent(finished("j", models.JobCompleted, &models.SeveritySummary{}))
	d.Wait()
	assert.EqualValues(t, 0, s.calls.Load())

	evt := finished("k", models.JobFailed, nil)
	evt.Error = "fetch failed"
	d.HandleJobEvent(evt)
	d.Wait()
	require.EqualValues(t, 1, s.calls.Load())
	assert.Equal(t, EventJobFailed, s.last(t).headers.Get("X-Event"))
	assert.Contains(t, string(s.last(t).body), `"error":"fetch failed"`)
	assert.NotContains(t, string(s.last(t).body), "report_url")
}

func TestDispatcherDropsEventsAfterClose(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	reg := NewRegistry()
	_, err := reg.Register(srv.URL, nil, "")
	require.NoError(t, err)

	d := newDispatcher(fakeReports{}, "", fastWebhook(reg))
	d.Close()
	d.HandleJobEvent(finished("j", models.JobCompleted, &models.SeveritySummary{}))
	d.Wait()
	assert.EqualValues(t, 0, s.calls.Load())
}

func TestNewDispatcherKeepsConfiguredChannels(t *testing.T) {
	d := NewDispatcher(config.NotifyConfig{}, NewRegistry(), fakeReports{}, "")
	defer d.Close()
	require.Len(t, d.channels, 1)
	assert.Equal(t, "webhook", d.channels[0].Name())

	d2 := NewDispatcher(config.NotifyConfig{Slack: config.SlackNotifyConfig{WebhookURL: "https://hooks.slack.com/x"}}, NewRegistry(), nil, "")
	defer d2.Close()
	assert.Len(t, d2.channels, 2)
	assert.True(t, d2.IsAnyConfigured())
}

func TestSlackSendsSummaryLine(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	ch := NewSlack(config.SlackNotifyConfig{WebhookURL: srv.URL})
	evt := Event{
		Type:      EventReportCreated,
		JobID:     "job-9",
		Status:    models.JobCompleted,
		Repo:      models.RepoInfo{URL: "https://github.com/acme/app"},
		Summary:   models.SeveritySummary{Critical: 1, High: 2, Low: 3},
		ReportURL: "http://scanner.local/reports/job-9",
	}
	require.NoError(t, ch.Send(context.Background(), evt))

	var body struct {
		Text        string           `json:"text"`
		Attachments []map[string]any `json:"attachments"`
	}
	require.NoError(t, json.Unmarshal(s.last(t).body, &body))
	assert.Equal(t, "Scan completed for https://github.com/acme/app: 1 critical, 2 high, 0 medium, 3 low", body.Text)
	require.Len(t, body.Attachments, 1)
	assert.Equal(t, "#FF0000", body.Attachments[0]["color"])
	assert.Equal(t, evt.ReportURL, body.Attachments[0]["title_link"])
}

func TestSlackReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewSlack(config.SlackNotifyConfig{WebhookURL: srv.URL}).Send(context.Background(), Event{JobID: "j"})
	assert.EqualError(t, err, "slack webhook returned 403")
}

func TestSummaryLine(t *testing.T) {
	assert.Equal(t, "Scan failed for j1: clone failed",
		summaryLine(Event{JobID: "j1", Status: models.JobFailed, Error: "clone failed"}))
	assert.Equal(t, "Scan canceled for src.zip",
		summaryLine(Event{JobID: "j2", Status: models.JobCanceled, Repo: models.RepoInfo{Source: "zip", URL: "src.zip"}}))
	assert.Equal(t, "#2EB67D", statusColor(Event{Status: models.JobCompleted}))
	assert.Equal(t, "#FFAA00", statusColor(Event{Status: models.JobCompleted, Summary: models.SeveritySummary{Medium: 1}}))
}
