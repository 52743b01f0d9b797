// Package detectorapi serves the detector's HTTP surface: the on-demand
// enforcement sweep and the webhook receivers for monitoring alerts, cloud
// audit logs and GitHub pushes. Every receiver maps its input to incident
// payloads, drops those whose fingerprint is already open in the ledger and
// creates the rest.
package detectorapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/progression-labs-development/monitoring/internal/audit"
	"github.com/progression-labs-development/monitoring/internal/authmw"
	"github.com/progression-labs-development/monitoring/internal/fingerprint"
	"github.com/progression-labs-development/monitoring/internal/incident"
	"github.com/progression-labs-development/monitoring/internal/sweep"
)

const defaultMaxBodyBytes = 1 << 20

// Ledger is the subset of the ledger client the receivers need.
type Ledger interface {
	ListOpenByType(ctx context.Context, t incident.Type) ([]*incident.Incident, error)
	CreateIncident(ctx context.Context, p incident.Payload) (*incident.Incident, error)
	ResolveIncident(ctx context.Context, id string, status incident.Status, outcome map[string]any) (*incident.Incident, error)
}

// Sweeper runs an enforcement sweep.
type Sweeper interface {
	Run(ctx context.Context) (*sweep.Result, error)
}

// StateChecker reports whether provisioning state already owns the resource
// an audit event touched.
type StateChecker interface {
	Exists(ctx context.Context, ev *audit.Event) (bool, error)
}

// DeploymentLock reports whether a provisioning deployment is running, in
// which case audit events are its own changes.
type DeploymentLock interface {
	Active(ctx context.Context) bool
}

// RepoReader reads repository content for a GitHub App installation.
type RepoReader interface {
	CommitDiff(ctx context.Context, installationID int64, owner, repo, sha string) (string, error)
	FileContent(ctx context.Context, installationID int64, owner, repo, path, ref string) (string, bool, error)
}

// API holds dependencies for the detector handlers. Receivers whose
// dependencies are not configured are not mounted.
type API struct {
	logger  log.Logger
	ledger  Ledger
	metrics *Metrics

	sweeper    Sweeper
	sweepToken string

	alertToken string

	state StateChecker
	lock  DeploymentLock

	repos        RepoReader
	githubSecret string

	maxBodyBytes int64
}

// Option configures an API.
type Option func(*API)

// WithMetrics records receiver metrics on m.
func WithMetrics(m *Metrics) Option { return func(a *API) { a.metrics = m } }

// WithSweeper mounts POST /sweep, guarded by token when set.
func WithSweeper(s Sweeper, token string) Option {
	return func(a *API) { a.sweeper, a.sweepToken = s, token }
}

// WithAlertToken requires a bearer token on POST /webhook/alerts.
func WithAlertToken(token string) Option { return func(a *API) { a.alertToken = token } }

// WithAuditReceivers mounts the CloudTrail and GCP audit receivers. lock may
// be nil.
func WithAuditReceivers(state StateChecker, lock DeploymentLock) Option {
	return func(a *API) { a.state, a.lock = state, lock }
}

// WithGitHub mounts POST /webhook/github, verifying deliveries with secret.
func WithGitHub(repos RepoReader, secret string) Option {
	return func(a *API) { a.repos, a.githubSecret = repos, secret }
}

// WithMaxBodyBytes bounds webhook request bodies.
func WithMaxBodyBytes(n int64) Option { return func(a *API) { a.maxBodyBytes = n } }

// New creates the detector API.
func New(logger log.Logger, ledger Ledger, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if ledger == nil {
		panic(xerrors.New("ledger client is required"))
	}
	a := &API{
		logger:       logger,
		ledger:       ledger,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RegisterRoutes attaches the configured endpoints to r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if a.sweeper != nil {
		r.With(authmw.Optional(a.sweepToken)).Post("/sweep", a.handleSweep)
	}

	r.With(authmw.Optional(a.alertToken)).Post("/webhook/alerts", a.handleAlerts)

	if a.state != nil {
		r.Post("/webhook/cloudtrail", a.handleCloudTrail)
		r.Post("/webhook/gcp-audit", a.handleGCPAudit)
	}

	if a.repos != nil && a.githubSecret != "" {
		r.With(authmw.GitHubSignature(a.githubSecret, a.maxBodyBytes)).Post("/webhook/github", a.handleGitHub)
	}
}

// createFresh drops payloads already open in the ledger and creates the rest.
// Create failures do not stop the loop; they are returned together.
func (a *API) createFresh(ctx context.Context, source string, t incident.Type, payloads []incident.Payload) (created, skipped int, err error) {
	if len(payloads) == 0 {
		return 0, 0, nil
	}
	open, err := a.ledger.ListOpenByType(ctx, t)
	if err != nil {
		return 0, 0, err
	}
	fresh := fingerprint.DedupPayloads(payloads, open)
	skipped = len(payloads) - len(fresh)

	var errs []error
	for _, p := range fresh {
		inc, cerr := a.ledger.CreateIncident(ctx, p)
		if cerr != nil {
			a.logger.Error(ctx, cerr, "create incident failed", "source", source, "fingerprint", p.Fingerprint)
			errs = append(errs, cerr)
			continue
		}
		created++
		a.metrics.created(source, t)
		a.logger.Info(ctx, "incident created", "source", source, "incident_id", inc.ID, "type", string(t), "fingerprint", p.Fingerprint)
	}
	return created, skipped, errors.Join(errs...)
}

// decodeBody decodes a bounded JSON body, writing 413 or 400 on failure.
func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			http.Error(w, `{"error":"request body too large"}`, http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, `{"error":"Invalid payload"}`, http.StatusBadRequest)
		return false
	}
	return true
}

type skipResponse struct {
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason"`
}

func writeSkip(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusOK, skipResponse{Skipped: true, Reason: reason})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
