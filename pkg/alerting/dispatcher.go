// Package alerting evaluates notification rules against freshly analysed
// windows and dispatches to channel adapters.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/logsift/logsift/pkg/models"
)

// Notification is the payload handed to a channel adapter.
type Notification struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	Severity   string `json:"severity"`
	Variant    string `json:"variant"`
	SystemName string `json:"system_name"`
	Criterion  string `json:"criterion,omitempty"`
}

// Dispatcher delivers a notification over one channel. Adapters retry
// independently; the evaluator treats dispatch failure as fail-open.
type Dispatcher interface {
	Dispatch(ctx context.Context, channel models.NotificationChannel, n Notification) error
}

// ResolveSecret resolves env: references in channel config values.
// Secrets are never stored plaintext in the database.
func ResolveSecret(value string) string {
	if name, ok := strings.CutPrefix(value, "env:"); ok {
		return os.Getenv(name)
	}
	return value
}

// WebhookDispatcher posts the notification as JSON to the channel's
// configured URL.
type WebhookDispatcher struct {
	httpClient *http.Client
}

// NewWebhookDispatcher creates a webhook dispatcher with a 10s timeout.
func NewWebhookDispatcher() *WebhookDispatcher {
	return &WebhookDispatcher{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Dispatch posts the notification. The channel config requires "url";
// an optional "token" is sent as a bearer header. Both support env:
// references.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, channel models.NotificationChannel, n Notification) error {
	url := ResolveSecret(channel.Config["url"])
	if url == "" {
		return fmt.Errorf("channel %s has no url configured", channel.ID)
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := ResolveSecret(channel.Config["token"]); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
