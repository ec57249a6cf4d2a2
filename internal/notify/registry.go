package notify

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrWebhookNotFound is returned when deleting an unknown webhook.
var ErrWebhookNotFound = errors.New("webhook not found")

// ErrInvalidWebhook wraps registration input errors.
var ErrInvalidWebhook = errors.New("invalid webhook")

// Webhook is a registered delivery target.
type Webhook struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Secret    string    `json:"-"`
	HasSecret bool      `json:"has_secret"`
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
}

// Registry holds webhooks in memory. Registrations do not survive a restart.
type Registry struct {
	mu    sync.RWMutex
	hooks map[string]Webhook
	now   func() time.Time
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[string]Webhook), now: time.Now}
}

var knownEvents = []string{EventReportCreated, EventJobFailed, EventJobCanceled}

// Register adds a webhook for events (report.created when empty).
func (r *Registry) Register(rawURL string, events []string, secret string) (Webhook, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Webhook{}, fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidWebhook)
	}

	var subs []string
	for _, e := range events {
		e = strings.TrimSpace(e)
		if e == "" || slices.Contains(subs, e) {
			continue
		}
		if !slices.Contains(knownEvents, e) {
			return Webhook{}, fmt.Errorf("%w: unknown event %q", ErrInvalidWebhook, e)
		}
		subs = append(subs, e)
	}
	if len(subs) == 0 {
		subs = []string{EventReportCreated}
	}

	wh := Webhook{
		ID:        "wh_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		URL:       rawURL,
		Events:    subs,
		Secret:    secret,
		HasSecret: secret != "",
		CreatedAt: r.now().UTC(),
		Active:    true,
	}
	r.mu.Lock()
	r.hooks[wh.ID] = wh
	r.mu.Unlock()
	return wh, nil
}

// Delete removes a webhook.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hooks[id]; !ok {
		return ErrWebhookNotFound
	}
	delete(r.hooks, id)
	return nil
}

// List returns all webhooks ordered by creation time.
func (r *Registry) List() []Webhook {
	r.mu.RLock()
	out := make([]Webhook, 0, len(r.hooks))
	for _, wh := range r.hooks {
		out = append(out, wh)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Subscribed returns the active webhooks listening for eventType.
func (r *Registry) Subscribed(eventType string) []Webhook {
	var out []Webhook
	for _, wh := range r.List() {
		if wh.Active && slices.Contains(wh.Events, eventType) {
			out = append(out, wh)
		}
	}
	return out
}
