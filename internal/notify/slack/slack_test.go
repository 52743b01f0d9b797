package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/progression-labs-development/monitoring/internal/events"
	"github.com/progression-labs-development/monitoring/internal/incident"
)

func criticalEvent() events.Event {
	return events.Event{
		Event:     incident.EventCreated,
		Timestamp: "2026-02-26T14:23:00.000Z",
		Incident: &incident.Incident{
			ID:       "01JN123",
			Domain:   incident.DomainSecurity,
			Type:     incident.TypeSecretCommitted,
			Severity: incident.SeverityCritical,
			Status:   incident.StatusOpen,
			Resource: map[string]any{"repository": "org/app"},
		},
	}
}

func TestSend_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	if err := n.Send(context.Background(), criticalEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	atts, ok := got["attachments"].([]any)
	if !ok || len(atts) != 1 {
		t.Fatalf("attachments = %v, want one", got["attachments"])
	}
	att := atts[0].(map[string]any)
	if att["color"] != colorCritical {
		t.Errorf("color = %v, want %s", att["color"], colorCritical)
	}
	blocks := att["blocks"].([]any)
	if len(blocks) != 3 {
		t.Fatalf("blocks count = %d, want 3", len(blocks))
	}

	title := blocks[0].(map[string]any)["text"].(map[string]any)["text"].(string)
	if title != "*[CRITICAL] security: secret_committed*" {
		t.Errorf("title = %q", title)
	}

	fields := blocks[1].(map[string]any)["fields"].([]any)
	wantFields := []string{
		"*Event:*\nincident.created",
		"*Status:*\nopen",
		"*Domain:*\nsecurity",
		"*Type:*\nsecret_committed",
		`*Resource:*` + "\n" + `{"repository":"org/app"}`,
	}
	if len(fields) != len(wantFields) {
		t.Fatalf("fields = %d, want %d", len(fields), len(wantFields))
	}
	for i, want := range wantFields {
		if got := fields[i].(map[string]any)["text"]; got != want {
			t.Errorf("field[%d] = %q, want %q", i, got, want)
		}
	}

	ctxText := blocks[2].(map[string]any)["elements"].([]any)[0].(map[string]any)["text"]
	if ctxText != "Incident 01JN123 | 2026-02-26T14:23:00.000Z" {
		t.Errorf("context = %q", ctxText)
	}
}

func TestSend_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("")
	if err := n.Send(context.Background(), criticalEvent()); err != nil {
		t.Fatalf("Send with empty URL should be no-op, got: %v", err)
	}
}

func TestSend_Non2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid_token"))
	}))
	defer srv.Close()

	err := New(srv.URL).Send(context.Background(), criticalEvent())
	if err == nil || !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "invalid_token") {
		t.Errorf("err = %v, want 403 with body", err)
	}
}

func TestSeverityColor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sev  incident.Severity
		want string
	}{
		{incident.SeverityCritical, "#e01e5a"},
		{incident.SeverityHigh, "#f2952b"},
		{incident.SeverityMedium, "#cccccc"},
		{incident.SeverityLow, "#cccccc"},
	}
	for _, tt := range tests {
		if got := severityColor(tt.sev); got != tt.want {
			t.Errorf("severityColor(%q) = %q, want %q", tt.sev, got, tt.want)
		}
	}
}

func TestResourceJSON_Nil(t *testing.T) {
	t.Parallel()

	if got := resourceJSON(nil); got != "{}" {
		t.Errorf("resourceJSON(nil) = %q, want {}", got)
	}
}

func TestNew_InstrumentedClient(t *testing.T) {
	t.Parallel()

	n := New("https://hooks.slack.com/services/T0/B0/x")
	if _, ok := n.client.Transport.(*otelhttp.Transport); !ok {
		t.Errorf("Transport = %T, want *otelhttp.Transport", n.client.Transport)
	}
	if n.client.Timeout != httpTimeout {
		t.Errorf("Timeout = %v, want %v", n.client.Timeout, httpTimeout)
	}
}
