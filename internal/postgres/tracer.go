package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// Metrics holds the database query histogram.
type Metrics struct {
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics registers and returns query metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_db_query_duration_seconds",
			Help:    "Duration of individual database queries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "outcome"}),
	}
	reg.MustRegister(m.QueryDuration)
	return m
}

func (m *Metrics) observe(ctx context.Context, dur time.Duration, err error) {
	if m == nil {
		return
	}
	method, route := routeFromContext(ctx)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.QueryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
}

type queryStartKey struct{}

type queryStart struct {
	sql    string
	args   []any
	at     time.Time
	caller string
}

// queryTracer decorates an inner pgx.QueryTracer (otelpgx) with a structured
// log line and a duration observation per query.
type queryTracer struct {
	inner     pgx.QueryTracer
	slowQuery time.Duration
	metrics   *Metrics
}

func newQueryTracer(inner pgx.QueryTracer, slowQuery time.Duration, m *Metrics) *queryTracer {
	return &queryTracer{inner: inner, slowQuery: slowQuery, metrics: m}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	qs := &queryStart{
		sql:    data.SQL,
		args:   data.Args,
		at:     time.Now(),
		caller: appCaller(),
	}

	// inner first so the db span exists before we annotate it
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() && qs.caller != "" {
		span.SetAttributes(attribute.String("db.caller", qs.caller))
	}
	return context.WithValue(ctx, queryStartKey{}, qs)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	qs, ok := ctx.Value(queryStartKey{}).(*queryStart)
	if !ok {
		return
	}
	dur := time.Since(qs.at)
	t.metrics.observe(ctx, dur, data.Err)

	if data.Err == nil && dur < t.slowQuery {
		return
	}

	fields := []any{
		"db.statement", qs.sql,
		"db.args", len(qs.args),
		"db.duration", dur.Seconds(),
	}
	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		fields = append(fields,
			"db.operation.name", strings.ToUpper(strings.Fields(tag)[0]),
			"db.rows", data.CommandTag.RowsAffected(),
		)
	}
	if qs.caller != "" {
		fields = append(fields, "db.caller", qs.caller)
	}

	L := log.FromContext(ctx)
	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Info(ctx, "db query", fields...)
}

func routeFromContext(ctx context.Context) (method, route string) {
	method, route = "NONE", "none"
	if rc := chi.RouteContext(ctx); rc != nil {
		if rc.RouteMethod != "" {
			method = rc.RouteMethod
		}
		if p := rc.RoutePattern(); p != "" {
			route = p
		}
	}
	return method, route
}

// appCaller returns the first stack frame outside pgx, otelpgx, the runtime
// and this package: the store method that issued the query.
func appCaller() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		fr, more := frames.Next()
		if !skipFrame(fr.Function) {
			return shortenFuncName(fr.Function)
		}
		if !more {
			return ""
		}
	}
}

func skipFrame(fn string) bool {
	return fn == "" ||
		strings.HasPrefix(fn, "runtime.") ||
		strings.Contains(fn, "github.com/jackc/pgx/v5") ||
		strings.Contains(fn, "github.com/jackc/puddle") ||
		strings.Contains(fn, "github.com/exaring/otelpgx") ||
		strings.Contains(fn, "github.com/progression-labs-development/monitoring/internal/postgres.")
}

// shortenFuncName reduces "github.com/x/y/pkg.(*T).M" to "(*T).M".
func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
