package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/progression-labs-development/monitoring/internal/classify"
	"github.com/progression-labs-development/monitoring/internal/fingerprint"
	"github.com/progression-labs-development/monitoring/internal/incident"
	"github.com/progression-labs-development/monitoring/internal/signal"
)

// ErrInProgress is returned by Run while another sweep is running.
var ErrInProgress = errors.New("sweep already in progress")

// StateSource provides the expected state a sweep classifies against.
type StateSource interface {
	Load(ctx context.Context) (*classify.Loaded, error)
}

// Ledger is the subset of the ledger client a sweep needs.
type Ledger interface {
	ListOpenByType(ctx context.Context, t incident.Type) ([]*incident.Incident, error)
	CreateIncident(ctx context.Context, p incident.Payload) (*incident.Incident, error)
}

// Result summarizes one sweep. Errors lists every non-fatal failure; a
// non-empty list means the counts describe a partial sweep.
type Result struct {
	classify.Summary
	IncidentsCreated int      `json:"incidentsCreated"`
	IncidentsSkipped int      `json:"incidentsSkipped"`
	Errors           []string `json:"errors"`
	StateDigest      string   `json:"stateDigest,omitempty"`
}

// Runner executes sweeps. At most one sweep runs at a time.
type Runner struct {
	state       StateSource
	enumerators []Enumerator
	ledger      Ledger
	logger      log.Logger
	metrics     *Metrics
	now         func() time.Time

	mu sync.Mutex
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMetrics records sweep metrics on m.
func WithMetrics(m *Metrics) RunnerOption { return func(r *Runner) { r.metrics = m } }

// NewRunner creates a Runner.
func NewRunner(state StateSource, enumerators []Enumerator, ledger Ledger, logger log.Logger, opts ...RunnerOption) *Runner {
	if state == nil {
		panic(xerrors.New("expected state source is required"))
	}
	if ledger == nil {
		panic(xerrors.New("ledger client is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	r := &Runner{
		state:       state,
		enumerators: enumerators,
		ledger:      ledger,
		logger:      logger,
		now:         time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run performs one sweep. It fails only when expected state cannot be loaded
// or open incidents cannot be listed; enumeration and per-incident create
// failures are reported in Result.Errors.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if !r.mu.TryLock() {
		return nil, ErrInProgress
	}
	defer r.mu.Unlock()

	start := r.now()
	res, err := r.run(ctx)
	elapsed := r.now().Sub(start).Seconds()

	switch {
	case err != nil:
		r.metrics.observe(nil, elapsed, "failed")
		r.logger.Error(ctx, err, "sweep failed")
		return nil, err
	case len(res.Errors) > 0:
		r.metrics.observe(res, elapsed, "partial")
	default:
		r.metrics.observe(res, elapsed, "ok")
	}

	r.logger.Info(ctx, "sweep complete",
		"live", res.Live,
		"managed", res.Managed,
		"rogue", res.Rogue,
		"provider_managed", res.ProviderManaged,
		"created", res.IncidentsCreated,
		"skipped", res.IncidentsSkipped,
		"errors", len(res.Errors),
		"state_digest", res.StateDigest,
	)
	return res, nil
}

func (r *Runner) run(ctx context.Context) (*Result, error) {
	loaded, err := r.state.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load expected state: %w", err)
	}

	res := &Result{Errors: []string{}, StateDigest: loaded.Digest}

	live, enumErrs := EnumerateAll(ctx, r.enumerators)
	for _, e := range enumErrs {
		r.metrics.failure("enumerate")
		r.logger.Warn(ctx, "enumeration failed", "error", e)
		res.Errors = append(res.Errors, "enumeration failed: "+e.Error())
	}

	classified := classify.Classify(live, loaded.State)
	res.Summary = classify.Summarize(classified)

	rogue := classify.RogueOnly(classified)
	payloads := make([]incident.Payload, 0, len(rogue))
	for _, c := range rogue {
		payloads = append(payloads, signal.MapRogueResource(c))
	}

	open, err := r.ledger.ListOpenByType(ctx, incident.TypeRogueResource)
	if err != nil {
		return nil, fmt.Errorf("list open rogue incidents: %w", err)
	}
	fresh := fingerprint.DedupPayloads(payloads, open)
	res.IncidentsSkipped = len(payloads) - len(fresh)

	for _, p := range fresh {
		if _, err := r.ledger.CreateIncident(ctx, p); err != nil {
			r.metrics.failure("create")
			r.logger.Warn(ctx, "create rogue incident failed", "fingerprint", p.Fingerprint, "error", err)
			res.Errors = append(res.Errors, fmt.Sprintf("failed to create incident for %s: %v", p.Fingerprint, err))
			continue
		}
		res.IncidentsCreated++
	}

	return res, nil
}
