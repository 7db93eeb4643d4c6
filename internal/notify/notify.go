package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"seatgrid.io/internal/impersonation"
	"seatgrid.io/internal/obs"
)

// Event is the webhook payload for session lifecycle notifications.
type Event struct {
	Kind           string    `json:"kind"` // session.started | session.ended
	SessionID      string    `json:"session_id"`
	ImpersonatorID string    `json:"impersonator_id"`
	TenantID       string    `json:"tenant_id"`
	Reason         string    `json:"reason"`
	Status         string    `json:"status"`
	ExpiresAt      time.Time `json:"expires_at"`
	ActionCount    int64     `json:"action_count,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Webhook posts session lifecycle events to a configured endpoint.
type Webhook struct {
	url    string
	client *http.Client
}

var _ impersonation.Notifier = (*Webhook)(nil)

// NewWebhook constructs a Webhook notifier with sensible client defaults.
func NewWebhook(url string, client *http.Client) (*Webhook, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("notify: webhook url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Webhook{url: url, client: client}, nil
}

// SessionStarted notifies configured recipients about a new session.
func (w *Webhook) SessionStarted(ctx context.Context, session impersonation.Session) error {
	return w.post(ctx, Event{
		Kind:           "session.started",
		SessionID:      session.ID,
		ImpersonatorID: session.ImpersonatorID,
		TenantID:       session.TenantID,
		Reason:         session.Reason,
		Status:         string(session.Status),
		ExpiresAt:      session.ExpiresAt,
		OccurredAt:     time.Now().UTC(),
	})
}

// SessionEnded notifies configured recipients about a terminal session.
func (w *Webhook) SessionEnded(ctx context.Context, session impersonation.Session, actionCount int64) error {
	return w.post(ctx, Event{
		Kind:           "session.ended",
		SessionID:      session.ID,
		ImpersonatorID: session.ImpersonatorID,
		TenantID:       session.TenantID,
		Reason:         session.Reason,
		Status:         string(session.Status),
		ExpiresAt:      session.ExpiresAt,
		ActionCount:    actionCount,
		OccurredAt:     time.Now().UTC(),
	})
}

func (w *Webhook) post(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: deliver event: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook responded %d", resp.StatusCode)
	}
	return nil
}

// LogAlerter is the default operational alert channel: a structured log line
// that ops tooling scrapes for pages. Used when no external channel is wired.
type LogAlerter struct{}

var _ impersonation.Alerter = LogAlerter{}

// Alert emits the escalation as a structured error log line.
func (LogAlerter) Alert(ctx context.Context, msg string, fields map[string]string) {
	entry := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		entry[k] = v
	}
	entry["alert"] = true
	obs.Log("error", msg, entry)
}
