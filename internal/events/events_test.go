package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/progression-labs-development/monitoring/internal/incident"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (c *captureSink) Send(_ context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return c.err
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func testIncident(sev incident.Severity) *incident.Incident {
	return &incident.Incident{
		ID:       "01JTEST",
		Domain:   incident.DomainSecurity,
		Type:     incident.TypeSecretCommitted,
		Severity: sev,
		Status:   incident.StatusOpen,
	}
}

func TestEmit_SeverityRouting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sev       incident.Severity
		wantChat  int
		wantAgent int
	}{
		{incident.SeverityCritical, 1, 1},
		{incident.SeverityHigh, 1, 1},
		{incident.SeverityMedium, 0, 1},
		{incident.SeverityLow, 0, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.sev), func(t *testing.T) {
			t.Parallel()

			agent, chat := &captureSink{}, &captureSink{}
			e := New(log.Nop(), WithAgentSink(agent), WithChatSink(chat))
			e.Emit(context.Background(), incident.EventCreated, testIncident(tt.sev))
			e.Wait()

			if got := agent.count(); got != tt.wantAgent {
				t.Errorf("agent deliveries = %d, want %d", got, tt.wantAgent)
			}
			if got := chat.count(); got != tt.wantChat {
				t.Errorf("chat deliveries = %d, want %d", got, tt.wantChat)
			}
		})
	}
}

func TestEmit_EventShape(t *testing.T) {
	t.Parallel()

	agent := &captureSink{}
	ts := time.Date(2026, 5, 6, 7, 8, 9, 123456789, time.FixedZone("X", 3600))
	e := New(nil, WithAgentSink(agent), WithClock(func() time.Time { return ts }))
	e.Emit(context.Background(), incident.EventResolved, testIncident(incident.SeverityLow))
	e.Wait()

	ev := agent.events[0]
	if ev.Event != incident.EventResolved {
		t.Errorf("Event = %q", ev.Event)
	}
	if ev.Timestamp != "2026-05-06T06:08:09.123Z" {
		t.Errorf("Timestamp = %q, want UTC millisecond ISO", ev.Timestamp)
	}
	if ev.Incident.ID != "01JTEST" {
		t.Errorf("Incident.ID = %q", ev.Incident.ID)
	}
}

func TestEmit_DoesNotBlockOnSlowSink(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	slow := SinkFunc(func(ctx context.Context, _ Event) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	e := New(nil, WithAgentSink(slow))

	done := make(chan struct{})
	go func() {
		e.Emit(context.Background(), incident.EventCreated, testIncident(incident.SeverityLow))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a slow sink")
	}
	close(release)
	e.Wait()
}

func TestEmit_SurvivesCanceledRequestContext(t *testing.T) {
	t.Parallel()

	var gotErr error
	var mu sync.Mutex
	sink := SinkFunc(func(ctx context.Context, _ Event) error {
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		gotErr = ctx.Err()
		mu.Unlock()
		return nil
	})
	e := New(nil, WithAgentSink(sink))

	ctx, cancel := context.WithCancel(context.Background())
	e.Emit(ctx, incident.EventCreated, testIncident(incident.SeverityLow))
	cancel()
	e.Wait()

	mu.Lock()
	defer mu.Unlock()
	if gotErr != nil {
		t.Errorf("delivery ctx err = %v, want detached context", gotErr)
	}
}

func TestEmit_FailuresAndPanicsAreIsolated(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	panicky := SinkFunc(func(context.Context, Event) error { panic("boom") })
	failing := &captureSink{err: errors.New("503")}
	e := New(log.Nop(), WithAgentSink(panicky), WithChatSink(failing), WithMetrics(m))

	e.Emit(context.Background(), incident.EventCreated, testIncident(incident.SeverityCritical))
	e.Wait()

	if got := testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("agent", "panic")); got != 1 {
		t.Errorf("agent panic count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("chat", "error")); got != 1 {
		t.Errorf("chat error count = %v, want 1", got)
	}
	if failing.count() != 1 {
		t.Errorf("chat sink attempts = %d, want exactly 1 (no retry)", failing.count())
	}
}

func TestEmit_NoSinks(t *testing.T) {
	t.Parallel()

	e := New(nil)
	e.Emit(context.Background(), incident.EventCreated, testIncident(incident.SeverityCritical))
	e.Emit(context.Background(), incident.EventCreated, nil)
	if err := e.WaitContext(context.Background()); err != nil {
		t.Errorf("WaitContext: %v", err)
	}
}

func TestWaitContext_Deadline(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)
	e := New(nil, WithAgentSink(SinkFunc(func(context.Context, Event) error {
		<-block
		return nil
	})), WithDeliveryTimeout(time.Minute))
	e.Emit(context.Background(), incident.EventCreated, testIncident(incident.SeverityLow))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := e.WaitContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitContext = %v, want deadline exceeded", err)
	}
}
