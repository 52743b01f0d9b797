// Package memstore provides an in-memory implementation of incident.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/progression-labs-development/monitoring/internal/incident"
)

// Store holds incidents in memory. Suitable for dev/testing.
type Store struct {
	mu        sync.RWMutex
	incidents map[string]*incident.Incident
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		incidents: make(map[string]*incident.Incident),
	}
}

// Insert stores a copy of inc. Ids must be unique.
func (s *Store) Insert(_ context.Context, inc *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.incidents[inc.ID]; exists {
		return &duplicateIDError{id: inc.ID}
	}
	s.incidents[inc.ID] = inc.Clone()
	return nil
}

// Get retrieves an incident by id. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	return inc.Clone(), true, nil
}

// List returns copies of the incidents matching f, newest first.
func (s *Store) List(_ context.Context, f incident.ListFilter) ([]*incident.Incident, error) {
	s.mu.RLock()
	matched := make([]*incident.Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		if f.Matches(inc) {
			matched = append(matched, inc)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	if f.Offset >= len(matched) {
		return []*incident.Incident{}, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}

	out := make([]*incident.Incident, len(matched))
	for i, inc := range matched {
		out[i] = inc.Clone()
	}
	return out, nil
}

// Claim transitions an open incident to claimed inside one critical section.
func (s *Store) Claim(_ context.Context, id, claimedBy string, at time.Time) (*incident.Incident, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok || inc.Status != incident.StatusOpen {
		return nil, false, nil
	}
	inc.Status = incident.StatusClaimed
	inc.ClaimedBy = &claimedBy
	inc.ClaimedAt = &at
	return inc.Clone(), true, nil
}

// Resolve transitions an open or claimed incident to status inside one
// critical section. claimed_by is cleared; claimed_at is kept.
func (s *Store) Resolve(_ context.Context, id string, status incident.Status, outcome map[string]any, at time.Time) (*incident.Incident, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok || inc.Status.Terminal() {
		return nil, false, nil
	}
	inc.Status = status
	inc.ClaimedBy = nil
	inc.Outcome = outcome
	inc.ResolvedAt = &at
	return inc.Clone(), true, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

type duplicateIDError struct{ id string }

func (e *duplicateIDError) Error() string { return "memstore: duplicate incident id " + e.id }
