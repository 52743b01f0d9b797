// Ledger is the incident ledger: the single deduplicated, stateful record of
// every detected condition, with claim and resolve lifecycle and event
// fan-out to the agent workflow and chat.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/progression-labs-development/monitoring/internal/authmw"
	mc "github.com/progression-labs-development/monitoring/internal/cfg"
	"github.com/progression-labs-development/monitoring/internal/events"
	"github.com/progression-labs-development/monitoring/internal/incident"
	"github.com/progression-labs-development/monitoring/internal/incident/memstore"
	"github.com/progression-labs-development/monitoring/internal/incident/pgstore"
	"github.com/progression-labs-development/monitoring/internal/ledgerapi"
	"github.com/progression-labs-development/monitoring/internal/notify/slack"
	"github.com/progression-labs-development/monitoring/internal/notify/webhook"
	"github.com/progression-labs-development/monitoring/internal/postgres"
	"github.com/progression-labs-development/monitoring/internal/serve"
)

const appName = "monitoring"
const component = "ledger"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    mc.Ledger
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// cmdline first, env vars below do not override it
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	cfg.FillFromEnv(flag.CommandLine, "LEDGER_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"auth_enabled", appCfg.APIToken != "",
		"cors_origins", appCfg.Origins(),
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	// profiling starts early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	var store incident.Store
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL, postgres.PoolOptions{
			MaxConns:  int32(appCfg.DBMaxConns), //nolint:gosec // G115: bounded 1..100 by Validate
			SlowQuery: time.Duration(appCfg.SlowQueryMillis) * time.Millisecond,
			Metrics:   postgres.NewMetrics(m.Registry()),
		})
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		pg, err := pgstore.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		store = pg
		L.Info(ctx, "using postgres store")
	} else {
		store = memstore.New()
		L.Warn(ctx, "using in-memory store (no database-url configured), incidents are lost on restart")
	}

	// event sinks: agent gets everything, chat only critical and high
	emitterOpts := []events.Option{events.WithMetrics(events.NewMetrics(m.Registry()))}
	if appCfg.AgentWebhookURL != "" {
		emitterOpts = append(emitterOpts, events.WithAgentSink(webhook.New(appCfg.AgentWebhookURL, appCfg.AgentWebhookAuth)))
		L.Info(ctx, "event sink enabled", "sink", "agent")
	}
	if appCfg.SlackWebhookURL != "" {
		emitterOpts = append(emitterOpts, events.WithChatSink(slack.New(appCfg.SlackWebhookURL)))
		L.Info(ctx, "event sink enabled", "sink", "chat")
	}
	emitter := events.New(L, emitterOpts...)

	svc := incident.NewService(store, emitter, L, incident.WithMetrics(incident.NewMetrics(m.Registry())))

	// readiness fails during shutdown to drain the load balancer
	var shutdownGate health.ShutdownGate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		if err := opsHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	r := chi.NewRouter()
	if origins := appCfg.Origins(); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(1 << 20))

	r.Get(serve.HealthyPath, health.HealthzHandler(liveness))
	r.Get(serve.ReadyPath, health.ReadyzHandler(readiness))

	var authMW []func(http.Handler) http.Handler
	if appCfg.APIToken != "" {
		authMW = append(authMW, authmw.BearerToken(appCfg.APIToken))
	}
	ledgerapi.New(L, svc, store).RegisterRoutes(r, authMW...)

	h := serve.Chain(r, L, m.Middleware, httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})

	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ledger http listener")
		return err
	}
	defer func() {
		if err := apiHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop ledger http listener")
		}
	}()

	if err := serve.NotifySystemd(); err != nil {
		// worst case systemd kills the process after its start timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	L.Info(context.Background(), "shutdown signal received")

	serve.Drain(L, &shutdownGate, time.Duration(appCfg.DrainSeconds)*time.Second)

	// in-flight event deliveries finish after the listener stops accepting
	// work so no transition loses its notification
	serve.Shutdown(L, time.Duration(appCfg.ShutdownBudgetSeconds)*time.Second,
		serve.Component{Name: "ledger http server", Stop: apiHTTPStop},
		serve.Component{Name: "event deliveries", Stop: emitter.WaitContext},
		serve.Component{Name: "ops http server", Stop: opsHTTPStop},
		serve.Component{Name: "otel", Stop: shutdownOtelx},
	)

	L.Info(context.Background(), "shutdown complete")
	return nil
}
