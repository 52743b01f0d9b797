// Package storetest is a behavioural test suite shared by every
// incident.Store implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/progression-labs-development/monitoring/internal/incident"
)

// Factory returns a store for one subtest. The store may be shared with
// other tests (a database); the suite only inspects rows it inserted.
type Factory func(t *testing.T) incident.Store

// Run exercises s against the incident.Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertGet", func(t *testing.T) { testInsertGet(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("ClaimOnce", func(t *testing.T) { testClaimOnce(t, newStore(t)) })
	t.Run("ConcurrentClaim", func(t *testing.T) { testConcurrentClaim(t, newStore(t)) })
	t.Run("ResolveFromClaimed", func(t *testing.T) { testResolveFromClaimed(t, newStore(t)) })
	t.Run("ResolveTwice", func(t *testing.T) { testResolveTwice(t, newStore(t)) })
	t.Run("ListFilterOrder", func(t *testing.T) { testListFilterOrder(t, newStore(t)) })
}

var seq atomic.Int64

// NewIncident builds an open incident with a process-unique id.
func NewIncident(typ incident.Type, sev incident.Severity, createdAt time.Time) *incident.Incident {
	n := seq.Add(1)
	fp := fmt.Sprintf("storetest:%d:%d", time.Now().UnixNano(), n)
	return &incident.Incident{
		ID:               fmt.Sprintf("storetest-%d-%d", time.Now().UnixNano(), n),
		Domain:           incident.DomainInfrastructure,
		Type:             typ,
		Severity:         sev,
		Fingerprint:      &fp,
		Observed:         map[string]any{"cloud": "aws"},
		Expected:         map[string]any{},
		Delta:            map[string]any{},
		Resource:         map[string]any{"id": "bucket-1"},
		Actor:            map[string]any{},
		PermittedActions: []string{"delete_resource"},
		Constraints:      map[string]any{},
		Status:           incident.StatusOpen,
		CreatedAt:        createdAt.UTC().Truncate(time.Microsecond),
	}
}

func insert(t *testing.T, s incident.Store, inc *incident.Incident) {
	t.Helper()
	if err := s.Insert(context.Background(), inc); err != nil {
		t.Fatalf("Insert(%s): %v", inc.ID, err)
	}
}

func testInsertGet(t *testing.T, s incident.Store) {
	ctx := context.Background()
	in := NewIncident(incident.TypeRogueResource, incident.SeverityHigh, time.Now())
	insert(t, s, in)

	got, ok, err := s.Get(ctx, in.ID)
	if err != nil || !ok {
		t.Fatalf("Get = ok %v err %v, want found", ok, err)
	}
	if got.Status != incident.StatusOpen {
		t.Errorf("Status = %q, want open", got.Status)
	}
	if got.FingerprintValue() != in.FingerprintValue() {
		t.Errorf("Fingerprint = %q, want %q", got.FingerprintValue(), in.FingerprintValue())
	}
	if got.ClaimedBy != nil || got.ClaimedAt != nil || got.ResolvedAt != nil || got.Outcome != nil {
		t.Errorf("fresh incident has lifecycle fields set: %+v", got)
	}
	if got.Observed["cloud"] != "aws" {
		t.Errorf("Observed = %v, want cloud=aws", got.Observed)
	}
	if len(got.PermittedActions) != 1 || got.PermittedActions[0] != "delete_resource" {
		t.Errorf("PermittedActions = %v", got.PermittedActions)
	}
	if !got.CreatedAt.Equal(in.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, in.CreatedAt)
	}
}

func testGetMissing(t *testing.T, s incident.Store) {
	ctx := context.Background()
	if _, ok, err := s.Get(ctx, "does-not-exist"); err != nil || ok {
		t.Errorf("Get(missing) = ok %v err %v, want not found", ok, err)
	}
	if _, ok, err := s.Claim(ctx, "does-not-exist", "agent", time.Now()); err != nil || ok {
		t.Errorf("Claim(missing) = ok %v err %v, want ok=false", ok, err)
	}
	if _, ok, err := s.Resolve(ctx, "does-not-exist", incident.StatusRemediated, map[string]any{}, time.Now()); err != nil || ok {
		t.Errorf("Resolve(missing) = ok %v err %v, want ok=false", ok, err)
	}
}

func testClaimOnce(t *testing.T, s incident.Store) {
	ctx := context.Background()
	in := NewIncident(incident.TypeDrift, incident.SeverityMedium, time.Now())
	insert(t, s, in)

	at := time.Now().UTC().Truncate(time.Microsecond)
	got, ok, err := s.Claim(ctx, in.ID, "agent-a", at)
	if err != nil || !ok {
		t.Fatalf("first Claim = ok %v err %v", ok, err)
	}
	if got.Status != incident.StatusClaimed {
		t.Errorf("Status = %q, want claimed", got.Status)
	}
	if got.ClaimedBy == nil || *got.ClaimedBy != "agent-a" {
		t.Errorf("ClaimedBy = %v, want agent-a", got.ClaimedBy)
	}
	if got.ClaimedAt == nil || !got.ClaimedAt.Equal(at) {
		t.Errorf("ClaimedAt = %v, want %v", got.ClaimedAt, at)
	}

	if _, ok, err := s.Claim(ctx, in.ID, "agent-b", time.Now()); err != nil || ok {
		t.Errorf("second Claim = ok %v err %v, want ok=false", ok, err)
	}
	cur, _, _ := s.Get(ctx, in.ID)
	if cur.ClaimedBy == nil || *cur.ClaimedBy != "agent-a" {
		t.Errorf("losing claim overwrote claimant: %v", cur.ClaimedBy)
	}
}

func testConcurrentClaim(t *testing.T, s incident.Store) {
	for _, n := range []int{2, 32} {
		t.Run(fmt.Sprintf("claimants=%d", n), func(t *testing.T) {
			ctx := context.Background()
			in := NewIncident(incident.TypeRogueResource, incident.SeverityHigh, time.Now())
			insert(t, s, in)

			var (
				wg      sync.WaitGroup
				wins    atomic.Int32
				winnerM sync.Mutex
				winner  string
				start   = make(chan struct{})
			)
			for i := range n {
				wg.Add(1)
				go func(who string) {
					defer wg.Done()
					<-start
					_, ok, err := s.Claim(ctx, in.ID, who, time.Now())
					if err != nil {
						t.Errorf("Claim(%s): %v", who, err)
						return
					}
					if ok {
						wins.Add(1)
						winnerM.Lock()
						winner = who
						winnerM.Unlock()
					}
				}(fmt.Sprintf("agent-%d", i))
			}
			close(start)
			wg.Wait()

			if got := wins.Load(); got != 1 {
				t.Fatalf("successful claims = %d, want exactly 1", got)
			}
			cur, _, _ := s.Get(ctx, in.ID)
			if cur.ClaimedBy == nil || *cur.ClaimedBy != winner {
				t.Errorf("ClaimedBy = %v, want winner %q", cur.ClaimedBy, winner)
			}
		})
	}
}

func testResolveFromClaimed(t *testing.T, s incident.Store) {
	ctx := context.Background()
	in := NewIncident(incident.TypeSecretCommitted, incident.SeverityCritical, time.Now())
	insert(t, s, in)

	if _, ok, err := s.Claim(ctx, in.ID, "agent", time.Now()); err != nil || !ok {
		t.Fatalf("Claim = ok %v err %v", ok, err)
	}
	outcome := map[string]any{"resolution": "rotated"}
	got, ok, err := s.Resolve(ctx, in.ID, incident.StatusEscalated, outcome, time.Now())
	if err != nil || !ok {
		t.Fatalf("Resolve = ok %v err %v", ok, err)
	}
	if got.Status != incident.StatusEscalated {
		t.Errorf("Status = %q, want escalated", got.Status)
	}
	if got.Outcome["resolution"] != "rotated" {
		t.Errorf("Outcome = %v", got.Outcome)
	}
	if got.ResolvedAt == nil {
		t.Error("ResolvedAt not set")
	}
	if got.ClaimedBy != nil {
		t.Errorf("ClaimedBy = %q after resolve, want nil", *got.ClaimedBy)
	}
	if got.ClaimedAt == nil {
		t.Error("Resolve dropped ClaimedAt")
	}
	stored, _, err := s.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.ClaimedBy != nil {
		t.Errorf("stored ClaimedBy = %q after resolve, want nil", *stored.ClaimedBy)
	}
}

func testResolveTwice(t *testing.T, s incident.Store) {
	ctx := context.Background()
	in := NewIncident(incident.TypeAlertTriggered, incident.SeverityLow, time.Now())
	insert(t, s, in)

	if _, ok, err := s.Resolve(ctx, in.ID, incident.StatusRemediated, map[string]any{"n": "first"}, time.Now()); err != nil || !ok {
		t.Fatalf("first Resolve = ok %v err %v", ok, err)
	}
	if _, ok, err := s.Resolve(ctx, in.ID, incident.StatusEscalated, map[string]any{"n": "second"}, time.Now()); err != nil || ok {
		t.Errorf("second Resolve = ok %v err %v, want ok=false", ok, err)
	}
	if _, ok, err := s.Claim(ctx, in.ID, "late", time.Now()); err != nil || ok {
		t.Errorf("Claim after resolve = ok %v err %v, want ok=false", ok, err)
	}
	cur, _, _ := s.Get(ctx, in.ID)
	if cur.Status != incident.StatusRemediated || cur.Outcome["n"] != "first" {
		t.Errorf("terminal incident changed: status %q outcome %v", cur.Status, cur.Outcome)
	}
}

func testListFilterOrder(t *testing.T, s incident.Store) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	// other rows may exist; only the relative order of ours is checked
	var ids []string
	for i := range 5 {
		in := NewIncident(incident.TypeStandardsViolation, incident.SeverityMedium, base.Add(time.Duration(i)*time.Minute))
		insert(t, s, in)
		ids = append(ids, in.ID)
	}
	if _, ok, err := s.Claim(ctx, ids[4], "agent", time.Now()); err != nil || !ok {
		t.Fatalf("Claim = ok %v err %v", ok, err)
	}

	f := incident.ListFilter{Type: incident.TypeStandardsViolation, Status: incident.StatusOpen, Limit: incident.MaxListLimit}
	got, err := s.List(ctx, f)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var mine []string
	want := map[string]bool{ids[0]: true, ids[1]: true, ids[2]: true, ids[3]: true}
	for _, inc := range got {
		if inc.Status != incident.StatusOpen || inc.Type != incident.TypeStandardsViolation {
			t.Errorf("List returned %s with status %q type %q", inc.ID, inc.Status, inc.Type)
		}
		if want[inc.ID] {
			mine = append(mine, inc.ID)
		}
	}
	wantOrder := []string{ids[3], ids[2], ids[1], ids[0]}
	if fmt.Sprint(mine) != fmt.Sprint(wantOrder) {
		t.Errorf("order = %v, want newest first %v", mine, wantOrder)
	}

	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.After(got[i-1].CreatedAt) {
			t.Errorf("List not ordered by created_at desc at %d", i)
		}
	}

	page, err := s.List(ctx, incident.ListFilter{Type: incident.TypeStandardsViolation, Limit: 2})
	if err != nil {
		t.Fatalf("List page: %v", err)
	}
	if len(page) > 2 {
		t.Errorf("len(page) = %d, want <= 2", len(page))
	}
}
