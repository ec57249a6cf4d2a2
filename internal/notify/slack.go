package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/SuryaSriramD/CodeAgentTool/internal/config"
	"github.com/SuryaSriramD/CodeAgentTool/models"
)

// SlackChannel sends a one-line summary of each finished job to a Slack
// incoming webhook URL.
type SlackChannel struct {
	cfg    config.SlackNotifyConfig
	client *http.Client
	now    func() time.Time
}

// NewSlack creates a SlackChannel from cfg.
func NewSlack(cfg config.SlackNotifyConfig) *SlackChannel {
	return &SlackChannel{cfg: cfg, client: &http.Client{Timeout: 5 * time.Second}, now: time.Now}
}

func (s *SlackChannel) Name() string       { return "slack" }
func (s *SlackChannel) IsConfigured() bool { return s.cfg.WebhookURL != "" }

func (s *SlackChannel) Send(ctx context.Context, evt Event) error {
	attachment := map[string]any{
		"color":  statusColor(evt),
		"title":  "Job " + evt.JobID,
		"text":   summaryLine(evt),
		"footer": "codeagent",
		"ts":     s.now().Unix(),
	}
	if evt.ReportURL != "" {
		attachment["title_link"] = evt.ReportURL
	}
	body := map[string]any{
		"text":        summaryLine(evt),
		"attachments": []map[string]any{attachment},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req) // #nosec G107 -- WebhookURL is a user-configured Slack incoming webhook URL
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}

// summaryLine renders evt as e.g.
// "Scan completed for https://github.com/acme/app: 1 critical, 2 high, 0 medium, 3 low".
func summaryLine(evt Event) string {
	target := evt.Repo.URL
	if target == "" {
		target = evt.JobID
	}
	if evt.Status != models.JobCompleted {
		line := fmt.Sprintf("Scan %s for %s", evt.Status, target)
		if evt.Error != "" {
			line += ": " + evt.Error
		}
		return line
	}
	sm := evt.Summary
	return fmt.Sprintf("Scan completed for %s: %d critical, %d high, %d medium, %d low",
		target, sm.Critical, sm.High, sm.Medium, sm.Low)
}

func statusColor(evt Event) string {
	switch {
	case evt.Status == models.JobFailed:
		return "#FF0000"
	case evt.Status != models.JobCompleted:
		return "#888888"
	case evt.Summary.Critical > 0:
		return "#FF0000"
	case evt.Summary.High > 0:
		return "#FF6600"
	case evt.Summary.Medium > 0:
		return "#FFAA00"
	case evt.Summary.Low > 0:
		return "#0099FF"
	default:
		return "#2EB67D"
	}
}
