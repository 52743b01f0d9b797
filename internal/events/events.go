// Package events fans incident lifecycle events out to subscribers after the
// ledger has committed a transition. Delivery is best-effort: every delivery
// runs on its own goroutine, failures are logged and counted and never
// retried, and nothing is reported back to the caller of Emit.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/progression-labs-development/monitoring/internal/incident"
)

// TimestampFormat is millisecond-precision RFC 3339 in UTC.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

const defaultDeliveryTimeout = 10 * time.Second

// Event is the message delivered to sinks.
type Event struct {
	Event     incident.EventType `json:"event"`
	Timestamp string             `json:"timestamp"`
	Incident  *incident.Incident `json:"incident"`
}

// Sink delivers one event to one destination.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

// Send implements Sink.
func (f SinkFunc) Send(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Option configures an Emitter.
type Option func(*Emitter)

// WithAgentSink delivers every event to s.
func WithAgentSink(s Sink) Option { return func(e *Emitter) { e.agent = s } }

// WithChatSink delivers events for critical and high severity incidents to s.
func WithChatSink(s Sink) Option { return func(e *Emitter) { e.chat = s } }

// WithMetrics counts deliveries on m.
func WithMetrics(m *Metrics) Option { return func(e *Emitter) { e.metrics = m } }

// WithDeliveryTimeout bounds each individual delivery.
func WithDeliveryTimeout(d time.Duration) Option { return func(e *Emitter) { e.timeout = d } }

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option { return func(e *Emitter) { e.now = now } }

// Emitter implements incident.Emitter.
type Emitter struct {
	agent   Sink
	chat    Sink
	logger  log.Logger
	metrics *Metrics
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

var _ incident.Emitter = (*Emitter)(nil)

// New creates an Emitter. With no sinks configured Emit is a no-op.
func New(logger log.Logger, opts ...Option) *Emitter {
	if logger == nil {
		logger = log.Nop()
	}
	e := &Emitter{
		logger:  logger,
		timeout: defaultDeliveryTimeout,
		now:     time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Emit selects targets synchronously and delivers in the background. It
// returns before any delivery starts.
func (e *Emitter) Emit(ctx context.Context, et incident.EventType, inc *incident.Incident) {
	if inc == nil {
		return
	}
	ev := Event{
		Event:     et,
		Timestamp: e.now().UTC().Format(TimestampFormat),
		Incident:  inc,
	}

	// detach from the request so delivery survives the response
	bg := context.WithoutCancel(ctx)
	if e.agent != nil {
		e.dispatch(bg, "agent", e.agent, ev)
	}
	if e.chat != nil && inc.Severity.Paged() {
		e.dispatch(bg, "chat", e.chat, ev)
	}
}

// Wait blocks until all in-flight deliveries have finished.
func (e *Emitter) Wait() {
	e.wg.Wait()
}

// WaitContext is Wait bounded by ctx.
func (e *Emitter) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) dispatch(ctx context.Context, name string, sink Sink, ev Event) {
	e.wg.Add(1)
	go e.deliver(ctx, name, sink, ev)
}

func (e *Emitter) deliver(ctx context.Context, name string, sink Sink, ev Event) {
	defer e.wg.Done()

	L := e.logger.With("sink", name, "event", ev.Event, "incident_id", ev.Incident.ID)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.metrics.delivery(name, "panic", time.Since(start))
			L.Error(ctx, fmt.Errorf("panic: %v", r), "event delivery panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := sink.Send(ctx, ev); err != nil {
		e.metrics.delivery(name, "error", time.Since(start))
		L.Error(ctx, err, "event delivery failed")
		return
	}
	e.metrics.delivery(name, "ok", time.Since(start))
}
