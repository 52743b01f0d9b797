package incident

import (
	"context"
	"time"
)

// Store is the persistence interface for incidents.
//
// Claim and Resolve are conditional transitions that must be applied as a
// single atomic write: they return ok=false (and no error) when the incident
// is absent or its status does not satisfy the precondition. Callers must not
// emulate them with Get followed by an unconditional write.
type Store interface {
	Insert(ctx context.Context, inc *Incident) error
	Get(ctx context.Context, id string) (*Incident, bool, error)
	List(ctx context.Context, f ListFilter) ([]*Incident, error)
	Claim(ctx context.Context, id, claimedBy string, at time.Time) (*Incident, bool, error)
	Resolve(ctx context.Context, id string, status Status, outcome map[string]any, at time.Time) (*Incident, bool, error)
	Ping(ctx context.Context) error
}
