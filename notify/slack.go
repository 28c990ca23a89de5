package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bluesky-social/warden/pkg/robusthttp"
)

// SlackNotifier posts audit entries and critical reports to a Slack channel via an "incoming webhook".
//
// The slack incoming webhook must be already configured in the slack workplace.
type SlackNotifier struct {
	SlackWebhookURL string
	Client          *http.Client
}

var (
	_ Auditor   = (*SlackNotifier)(nil)
	_ ErrorSink = (*SlackNotifier)(nil)
)

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		SlackWebhookURL: webhookURL,
		Client:          robusthttp.NewClient(),
	}
}

type SlackWebhookBody struct {
	Text string `json:"text"`
}

func (n *SlackNotifier) Audit(ctx context.Context, e AuditEntry) error {
	return n.sendSlackMsg(ctx, "🔨 Moderation Action 🔨\n"+auditText(e))
}

func (n *SlackNotifier) Critical(ctx context.Context, r CriticalReport) error {
	return n.sendSlackMsg(ctx, criticalText(r))
}

func (n *SlackNotifier) sendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(SlackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.SlackWebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != 200 || buf.String() != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}
