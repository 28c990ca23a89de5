package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bluesky-social/warden/pkg/robusthttp"
)

// WebhookNotifier POSTs every event as JSON to a single endpoint, for delivery by an external relay (for example, a chat bot which DMs the affected account).
//
// Body shape: {"type": "target_notice"|"audit"|"critical", "payload": {...}}
type WebhookNotifier struct {
	URL    string
	Token  string
	Client *http.Client
}

var (
	_ Notifier  = (*WebhookNotifier)(nil)
	_ Auditor   = (*WebhookNotifier)(nil)
	_ ErrorSink = (*WebhookNotifier)(nil)
)

func NewWebhookNotifier(url, token string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Token:  token,
		Client: robusthttp.NewClient(),
	}
}

type webhookEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func (n *WebhookNotifier) NotifyTarget(ctx context.Context, t TargetNotice) error {
	return n.post(ctx, webhookEvent{Type: "target_notice", Payload: t})
}

func (n *WebhookNotifier) Audit(ctx context.Context, e AuditEntry) error {
	return n.post(ctx, webhookEvent{Type: "audit", Payload: e})
}

func (n *WebhookNotifier) Critical(ctx context.Context, r CriticalReport) error {
	return n.post(ctx, webhookEvent{Type: "critical", Payload: r})
}

func (n *WebhookNotifier) post(ctx context.Context, ev webhookEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.Token)
	}
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("posting %s webhook: %w", ev.Type, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s webhook POST failed. status=%d", ev.Type, resp.StatusCode)
	}
	return nil
}
