// Package notify delivers fire-and-forget webhook notifications.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"timecard/attendance/internal/track"
)

// Webhook posts notification events as JSON to a single endpoint.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (w *Webhook) NotifyLateness(ctx context.Context, event track.LatenessEvent) error {
	return w.post(ctx, "lateness", event)
}

func (w *Webhook) NotifyBreakExceeded(ctx context.Context, event track.BreakExceededEvent) error {
	return w.post(ctx, "break_exceeded", event)
}

func (w *Webhook) post(ctx context.Context, kind string, payload any) error {
	body, err := json.Marshal(map[string]any{
		"type":  kind,
		"event": payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify %s: status %d", kind, resp.StatusCode)
	}
	return nil
}

// Noop is used when no webhook is configured.
type Noop struct{}

func (Noop) NotifyLateness(context.Context, track.LatenessEvent) error           { return nil }
func (Noop) NotifyBreakExceeded(context.Context, track.BreakExceededEvent) error { return nil }
