package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/SuryaSriramD/CodeAgentTool/internal/config"
	"github.com/SuryaSriramD/CodeAgentTool/models"
)

const (
	defaultWebhookTimeout    = 30 * time.Second
	defaultWebhookMaxElapsed = 2 * time.Minute
)

// payload is the JSON body POSTed to registered webhooks.
type payload struct {
	JobID     string                 `json:"job_id"`
	Repo      models.RepoInfo        `json:"repo"`
	Summary   models.SeveritySummary `json:"summary"`
	ReportURL string                 `json:"report_url,omitempty"`
	Status    models.JobStatus       `json:"status"`
	Error     string                 `json:"error,omitempty"`
}

// WebhookChannel delivers events to every registered webhook subscribed to
// the event type, signing bodies with HMAC-SHA256 when a secret is set.
type WebhookChannel struct {
	registry   *Registry
	client     *http.Client
	maxElapsed time.Duration
	newBackOff func() backoff.BackOff
}

// NewWebhook creates a WebhookChannel over reg.
func NewWebhook(cfg config.WebhookNotifyConfig, reg *Registry) *WebhookChannel {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	w := &WebhookChannel{
		registry:   reg,
		client:     &http.Client{Timeout: timeout},
		maxElapsed: cfg.MaxElapsed,
	}
	if w.maxElapsed <= 0 {
		w.maxElapsed = defaultWebhookMaxElapsed
	}
	w.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = w.maxElapsed
		return b
	}
	return w
}

func (w *WebhookChannel) Name() string       { return "webhook" }
func (w *WebhookChannel) IsConfigured() bool { return w.registry != nil }

// Send posts evt to each subscribed webhook. A failing target does not stop
// delivery to the others; all failures are returned joined.
func (w *WebhookChannel) Send(ctx context.Context, evt Event) error {
	hooks := w.registry.Subscribed(evt.Type)
	if len(hooks) == 0 {
		return nil
	}
	body, err := json.Marshal(payload{
		JobID:     evt.JobID,
		Repo:      evt.Repo,
		Summary:   evt.Summary,
		ReportURL: evt.ReportURL,
		Status:    evt.Status,
		Error:     evt.Error,
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, wh := range hooks {
		if err := w.deliver(ctx, wh, evt.Type, body); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", wh.ID, err))
			continue
		}
		slog.Info("Webhook delivered", "webhook_id", wh.ID, "job_id", evt.JobID, "event", evt.Type)
	}
	return errors.Join(errs...)
}

func (w *WebhookChannel) deliver(ctx context.Context, wh Webhook, eventType string, body []byte) error {
	attempt := 0
	op := func() error {
		attempt++
		err := w.post(ctx, wh, eventType, body)
		if err != nil {
			slog.Debug("Webhook attempt failed", "webhook_id", wh.ID, "attempt", attempt, "error", err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(w.newBackOff(), ctx))
}

func (w *WebhookChannel) post(ctx context.Context, wh Webhook, eventType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event", eventType)
	if wh.Secret != "" {
		req.Header.Set("X-Signature", Sign(wh.Secret, body))
	}
	resp, err := w.client.Do(req) // #nosec G107 -- URL is a registered webhook endpoint
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("webhook returned %d", resp.StatusCode))
	}
}

// Sign returns the X-Signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
