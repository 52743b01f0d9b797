// Package serve holds the process plumbing shared by the ledger and detector
// binaries: the outer HTTP middleware stack, systemd readiness, the drain
// period and the budgeted component shutdown.
package serve

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Health endpoints mounted on every API listener. Requests to them are not
// traced.
const (
	HealthyPath = "/-/healthy"
	ReadyPath   = "/-/ready"
)

// Chain wraps the API router in the outer middleware stack. Order matters:
// the outermost wrapper sees the raw request first and the response last,
// the innermost sees the full context built by the outer ones.
func Chain(r http.Handler, L log.Logger, metricsMW func(http.Handler) http.Handler, clientIP httpmw.ClientIPOptions) http.Handler {
	h := r

	// Request-scoped logging (inner so it sees trace_id, chi route, etc)
	h = httpmw.WithLogger(L)(h)

	// add trace-id and span-id headers to any requests with a recording trace
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != HealthyPath && r.URL.Path != ReadyPath
		}),
		// AnnotateHTTPRoute renames the span to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	if metricsMW != nil {
		h = metricsMW(h)
	}

	// resolved client ip is used by everything downstream
	h = httpmw.ClientIPWithOptions(clientIP)(h)

	h = httpmw.RequestID("X-Request-Id")(h)

	// outer to catch panics from any downstream middleware or handlers
	h = httpmw.Recover(L, nil)(h)

	// outermost so they are served on every response
	h = httpmw.SecurityHeaders(h)

	return h
}

// NotifySystemd sends READY=1 to the socket systemd passes in NOTIFY_SOCKET
// when started with Type=notify.
func NotifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}

// Drain fails readiness and waits d so the load balancer stops routing new
// requests while in-flight ones finish. A second SIGINT/SIGTERM cuts the wait
// short.
func Drain(L log.Logger, gate *health.ShutdownGate, d time.Duration) {
	ctx := context.Background()

	gate.Set("draining")
	L.Info(ctx, "shutdown gate closed")

	L.Info(ctx, "sleeping for drain period", "drain_seconds", int(d.Seconds()))
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forceCh)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		L.Info(ctx, "drain period complete")
	case <-forceCh:
		L.Warn(ctx, "second signal received, skipping drain")
	}
}

// Component is one thing to stop on shutdown.
type Component struct {
	Name string
	Stop func(context.Context) error
}

// Shutdown stops components in order. Each gets an equal slice of budget;
// nil stop functions are skipped and failures are logged, not returned.
func Shutdown(L log.Logger, budget time.Duration, components ...Component) {
	var live []Component
	for _, c := range components {
		if c.Stop != nil {
			live = append(live, c)
		}
	}
	if len(live) == 0 {
		return
	}

	perComponent := budget / time.Duration(len(live))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, c := range live {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := c.Stop(cctx); err != nil {
			L.Error(context.Background(), err, c.Name+" shutdown")
		}
		ccancel()
	}
}
