// Package pgstore provides a PostgreSQL implementation of incident.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/progression-labs-development/monitoring/internal/incident"
)

var tracer = otel.Tracer("github.com/progression-labs-development/monitoring/internal/incident/pgstore")

//go:embed schema.sql
var schema string

// Store persists incidents in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const incidentColumns = `id, domain, type, severity, fingerprint, observed, expected, delta,
	resource, actor, permitted_actions, constraints, status, claimed_by, outcome,
	created_at, claimed_at, resolved_at`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Insert writes a new incident row.
func (s *Store) Insert(ctx context.Context, inc *incident.Incident) error {
	ctx, span := startSpan(ctx, "pgstore.Insert", "INSERT")
	defer span.End()

	cols := []map[string]any{inc.Observed, inc.Expected, inc.Delta, inc.Resource, inc.Actor, inc.Constraints}
	enc := make([][]byte, len(cols))
	for i, m := range cols {
		b, err := marshalObject(m)
		if err != nil {
			return fail(span, err)
		}
		enc[i] = b
	}
	actions := inc.PermittedActions
	if actions == nil {
		actions = []string{}
	}

	_, err := s.pool.Exec(ctx, `INSERT INTO incidents (
		id, domain, type, severity, fingerprint, observed, expected, delta,
		resource, actor, permitted_actions, constraints, status, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		inc.ID, string(inc.Domain), string(inc.Type), string(inc.Severity), inc.Fingerprint,
		enc[0], enc[1], enc[2], enc[3], enc[4], actions, enc[5],
		string(inc.Status), inc.CreatedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert incident: %w", err))
	}
	return nil
}

// Get retrieves an incident by id.
func (s *Store) Get(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	inc, err := scanIncident(s.pool.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id))
	if err != nil {
		return nil, false, fail(span, err)
	}
	return inc, inc != nil, nil
}

// List returns incidents matching f, newest first.
func (s *Store) List(ctx context.Context, f incident.ListFilter) ([]*incident.Incident, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	query, args := buildListQuery(f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query incidents: %w", err))
	}
	defer rows.Close()

	out := []*incident.Incident{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate incidents: %w", err))
	}
	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}

// Claim is a single conditional UPDATE: it only matches an open row, so of
// any number of concurrent claimants exactly one gets a row back.
func (s *Store) Claim(ctx context.Context, id, claimedBy string, at time.Time) (*incident.Incident, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Claim", "UPDATE")
	defer span.End()

	inc, err := scanIncident(s.pool.QueryRow(ctx,
		`UPDATE incidents SET status = 'claimed', claimed_by = $2, claimed_at = $3
		 WHERE id = $1 AND status = 'open'
		 RETURNING `+incidentColumns,
		id, claimedBy, at,
	))
	if err != nil {
		return nil, false, fail(span, err)
	}
	return inc, inc != nil, nil
}

// Resolve is a single conditional UPDATE matching open or claimed rows. It
// clears claimed_by and keeps claimed_at.
func (s *Store) Resolve(ctx context.Context, id string, status incident.Status, outcome map[string]any, at time.Time) (*incident.Incident, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Resolve", "UPDATE")
	defer span.End()

	outcomeJSON, err := marshalObject(outcome)
	if err != nil {
		return nil, false, fail(span, err)
	}

	inc, err := scanIncident(s.pool.QueryRow(ctx,
		`UPDATE incidents SET status = $2, claimed_by = NULL, outcome = $3, resolved_at = $4
		 WHERE id = $1 AND status IN ('open', 'claimed')
		 RETURNING `+incidentColumns,
		id, string(status), outcomeJSON, at,
	))
	if err != nil {
		return nil, false, fail(span, err)
	}
	return inc, inc != nil, nil
}

// Ping runs a trivial query against the pool.
func (s *Store) Ping(ctx context.Context) error {
	ctx, span := startSpan(ctx, "pgstore.Ping", "SELECT")
	defer span.End()

	var one int
	if err := s.pool.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fail(span, fmt.Errorf("ping: %w", err))
	}
	return nil
}

func buildListQuery(f incident.ListFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where = append(where, col+" = $"+strconv.Itoa(len(args)))
	}
	add("status", string(f.Status))
	add("domain", string(f.Domain))
	add("type", string(f.Type))
	add("severity", string(f.Severity))

	var b strings.Builder
	b.WriteString(`SELECT ` + incidentColumns + ` FROM incidents`)
	if len(where) > 0 {
		b.WriteString(` WHERE ` + strings.Join(where, ` AND `))
	}
	b.WriteString(` ORDER BY created_at DESC, id DESC`)

	args = append(args, f.Limit)
	b.WriteString(` LIMIT $` + strconv.Itoa(len(args)))
	args = append(args, f.Offset)
	b.WriteString(` OFFSET $` + strconv.Itoa(len(args)))
	return b.String(), args
}

func marshalObject(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}
	return b, nil
}

// scanIncident scans one row. Returns (nil, nil) when no row is found.
func scanIncident(row pgx.Row) (*incident.Incident, error) {
	var (
		inc                                 incident.Incident
		domain, typ, severity, status       string
		observed, expected, delta, resource []byte
		actor, constraints, outcome         []byte
	)

	err := row.Scan(
		&inc.ID, &domain, &typ, &severity, &inc.Fingerprint,
		&observed, &expected, &delta, &resource, &actor,
		&inc.PermittedActions, &constraints, &status, &inc.ClaimedBy, &outcome,
		&inc.CreatedAt, &inc.ClaimedAt, &inc.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	inc.Domain = incident.Domain(domain)
	inc.Type = incident.Type(typ)
	inc.Severity = incident.Severity(severity)
	inc.Status = incident.Status(status)

	targets := []struct {
		name string
		raw  []byte
		dst  *map[string]any
	}{
		{"observed", observed, &inc.Observed},
		{"expected", expected, &inc.Expected},
		{"delta", delta, &inc.Delta},
		{"resource", resource, &inc.Resource},
		{"actor", actor, &inc.Actor},
		{"constraints", constraints, &inc.Constraints},
		{"outcome", outcome, &inc.Outcome},
	}
	for _, tg := range targets {
		if tg.raw == nil {
			continue
		}
		if err := json.Unmarshal(tg.raw, tg.dst); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", tg.name, err)
		}
	}
	if inc.PermittedActions == nil {
		inc.PermittedActions = []string{}
	}
	return &inc, nil
}
