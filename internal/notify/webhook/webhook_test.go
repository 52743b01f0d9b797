package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/progression-labs-development/monitoring/internal/events"
	"github.com/progression-labs-development/monitoring/internal/incident"
)

func testEvent() events.Event {
	return events.Event{
		Event:     incident.EventClaimed,
		Timestamp: "2026-02-26T14:23:00.000Z",
		Incident: &incident.Incident{
			ID:       "01JN123",
			Domain:   incident.DomainInfrastructure,
			Type:     incident.TypeDrift,
			Severity: incident.SeverityMedium,
			Status:   incident.StatusClaimed,
		},
	}
}

func TestSend_PostsEvent(t *testing.T) {
	t.Parallel()

	var (
		got     map[string]any
		headers http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := New(srv.URL, "s3cret")
	if err := n.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got["event"] != "incident.claimed" || got["timestamp"] != "2026-02-26T14:23:00.000Z" {
		t.Errorf("payload = %v", got)
	}
	inc, ok := got["incident"].(map[string]any)
	if !ok || inc["id"] != "01JN123" || inc["status"] != "claimed" {
		t.Errorf("incident = %v", got["incident"])
	}
	if headers.Get("Content-Type") != "application/json" {
		t.Errorf("content-type = %q", headers.Get("Content-Type"))
	}
	if headers.Get("Authorization") != "Bearer s3cret" {
		t.Errorf("authorization = %q", headers.Get("Authorization"))
	}
	if headers.Get("X-Incident-Event") != "incident.claimed" {
		t.Errorf("X-Incident-Event = %q", headers.Get("X-Incident-Event"))
	}
}

func TestSend_NoTokenNoAuthHeader(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("unexpected Authorization header %q", r.Header.Get("Authorization"))
		}
	}))
	defer srv.Close()

	if err := New(srv.URL, "").Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestSend_Non2xxIncludesTruncatedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("e", 2000)))
	}))
	defer srv.Close()

	err := New(srv.URL, "").Send(context.Background(), testEvent())
	if err == nil {
		t.Fatal("expected error for 502")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("error = %q, want status code", err)
	}
	if len(err.Error()) > 600 {
		t.Errorf("error length = %d, body not truncated", len(err.Error()))
	}
}

func TestSend_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	if err := New(url, "").Send(context.Background(), testEvent()); err == nil {
		t.Fatal("expected error for closed server")
	}
}
