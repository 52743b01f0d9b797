package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"
)

// EventType names a lifecycle transition broadcast to subscribers.
type EventType string

const (
	EventCreated  EventType = "incident.created"
	EventClaimed  EventType = "incident.claimed"
	EventResolved EventType = "incident.resolved"
)

// Emitter fans lifecycle events out to subscribers. Emit must not block on
// delivery and has no error return: delivery is best-effort.
type Emitter interface {
	Emit(ctx context.Context, event EventType, inc *Incident)
}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, EventType, *Incident) {}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics records lifecycle transitions on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithIDGenerator overrides ULID generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// Service is the business boundary for incident lifecycle operations.
type Service struct {
	store   Store
	emitter Emitter
	logger  log.Logger
	metrics *Metrics
	now     func() time.Time
	newID   func() string
}

// NewService creates a new incident service. emitter may be nil, in which case
// events are dropped.
func NewService(store Store, emitter Emitter, logger log.Logger, opts ...Option) *Service {
	if store == nil {
		panic(xerrors.New("incident store is required"))
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if logger == nil {
		logger = log.Nop()
	}
	s := &Service{
		store:   store,
		emitter: emitter,
		logger:  logger,
		now:     time.Now,
		newID:   func() string { return ulid.Make().String() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create validates p and persists it as a new open incident.
func (s *Service) Create(ctx context.Context, p Payload) (*Incident, error) {
	if err := p.Validate(); err != nil {
		s.metrics.transition(EventCreated, "invalid")
		return nil, err
	}
	p.Normalize()

	inc := &Incident{
		ID:               s.newID(),
		Domain:           p.Domain,
		Type:             p.Type,
		Severity:         p.Severity,
		Observed:         p.Observed,
		Expected:         p.Expected,
		Delta:            p.Delta,
		Resource:         p.Resource,
		Actor:            p.Actor,
		PermittedActions: p.PermittedActions,
		Constraints:      p.Constraints,
		Status:           StatusOpen,
		CreatedAt:        s.now().UTC(),
	}
	if p.Fingerprint != "" {
		fp := p.Fingerprint
		inc.Fingerprint = &fp
	}

	if err := s.store.Insert(ctx, inc); err != nil {
		s.metrics.transition(EventCreated, "error")
		return nil, fmt.Errorf("insert incident: %w", err)
	}
	s.metrics.transition(EventCreated, "ok")
	s.metrics.created(inc)

	s.logger.Info(ctx, "incident created",
		"incident_id", inc.ID,
		"type", inc.Type,
		"severity", inc.Severity,
		"fingerprint", inc.FingerprintValue(),
	)
	s.emitter.Emit(ctx, EventCreated, inc.Clone())
	return inc, nil
}

// Get returns the incident with id or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Incident, error) {
	inc, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return inc, nil
}

// List returns incidents matching f, newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Incident, error) {
	if err := f.Normalize(); err != nil {
		return nil, err
	}
	out, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return out, nil
}

// Claim moves an open incident to claimed. Exactly one of any number of
// concurrent claimants succeeds; the rest get a *ConflictError.
func (s *Service) Claim(ctx context.Context, id, claimedBy string) (*Incident, error) {
	if claimedBy == "" {
		return nil, NewValidationError("claimed_by", "required")
	}

	inc, ok, err := s.store.Claim(ctx, id, claimedBy, s.now().UTC())
	if err != nil {
		s.metrics.transition(EventClaimed, "error")
		return nil, fmt.Errorf("claim incident: %w", err)
	}
	if !ok {
		return nil, s.rejected(ctx, EventClaimed, id)
	}
	s.metrics.transition(EventClaimed, "ok")

	s.logger.Info(ctx, "incident claimed", "incident_id", id, "claimed_by", claimedBy)
	s.emitter.Emit(ctx, EventClaimed, inc.Clone())
	return inc, nil
}

// Resolve moves an open or claimed incident to a terminal status. status
// defaults to remediated.
func (s *Service) Resolve(ctx context.Context, id string, outcome map[string]any, status Status) (*Incident, error) {
	if outcome == nil {
		return nil, NewValidationError("outcome", "required")
	}
	if status == "" {
		status = StatusRemediated
	}
	if !status.Terminal() {
		return nil, NewValidationError("status", "must be remediated or escalated")
	}

	inc, ok, err := s.store.Resolve(ctx, id, status, outcome, s.now().UTC())
	if err != nil {
		s.metrics.transition(EventResolved, "error")
		return nil, fmt.Errorf("resolve incident: %w", err)
	}
	if !ok {
		return nil, s.rejected(ctx, EventResolved, id)
	}
	s.metrics.transition(EventResolved, "ok")

	s.logger.Info(ctx, "incident resolved", "incident_id", id, "status", status)
	s.emitter.Emit(ctx, EventResolved, inc.Clone())
	return inc, nil
}

// rejected disambiguates a failed conditional transition: missing row or
// precondition not met.
func (s *Service) rejected(ctx context.Context, event EventType, id string) error {
	cur, ok, err := s.store.Get(ctx, id)
	if err != nil {
		s.metrics.transition(event, "error")
		return fmt.Errorf("reload incident: %w", err)
	}
	if !ok {
		s.metrics.transition(event, "not_found")
		return ErrNotFound
	}
	s.metrics.transition(event, "conflict")

	reason := "already resolved"
	if event == EventClaimed && cur.Status == StatusClaimed {
		reason = "already claimed"
	}
	return &ConflictError{Reason: reason, Current: cur}
}
