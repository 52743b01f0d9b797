// Package slack posts incident events to a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/progression-labs-development/monitoring/internal/events"
	"github.com/progression-labs-development/monitoring/internal/incident"
)

const httpTimeout = 10 * time.Second

const (
	colorCritical = "#e01e5a"
	colorHigh     = "#f2952b"
	colorDefault  = "#cccccc"
)

// Notifier sends incident events to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Send posts ev to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, ev events.Event) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(BuildMessage(ev))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// BuildMessage renders ev as a single colored attachment: title, a field
// grid and a context line.
func BuildMessage(ev events.Event) map[string]any {
	inc := ev.Incident
	return map[string]any{
		"attachments": []map[string]any{
			{
				"color": severityColor(inc.Severity),
				"blocks": []map[string]any{
					titleBlock(inc),
					fieldsBlock(ev),
					contextBlock(ev),
				},
			},
		},
	}
}

func titleBlock(inc *incident.Incident) map[string]any {
	title := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(inc.Severity)), inc.Domain, inc.Type)
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": "*" + title + "*",
		},
	}
}

func fieldsBlock(ev events.Event) map[string]any {
	inc := ev.Incident
	field := func(label, value string) map[string]any {
		return map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s:*\n%s", label, value),
		}
	}
	return map[string]any{
		"type": "section",
		"fields": []map[string]any{
			field("Event", string(ev.Event)),
			field("Status", string(inc.Status)),
			field("Domain", string(inc.Domain)),
			field("Type", string(inc.Type)),
			field("Resource", resourceJSON(inc.Resource)),
		},
	}
}

func contextBlock(ev events.Event) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("Incident %s | %s", ev.Incident.ID, ev.Timestamp),
			},
		},
	}
}

func severityColor(s incident.Severity) string {
	switch s {
	case incident.SeverityCritical:
		return colorCritical
	case incident.SeverityHigh:
		return colorHigh
	default:
		return colorDefault
	}
}

func resourceJSON(r map[string]any) string {
	if r == nil {
		return "{}"
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(b)
}
