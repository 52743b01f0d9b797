// Detector turns raw signals into ledger incidents: an on-demand sweep of
// live cloud inventory against expected provisioning state, and webhook
// receivers for monitoring alerts, cloud audit logs and GitHub pushes.
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
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	mc "github.com/progression-labs-development/monitoring/internal/cfg"
	"github.com/progression-labs-development/monitoring/internal/classify"
	"github.com/progression-labs-development/monitoring/internal/detectorapi"
	"github.com/progression-labs-development/monitoring/internal/github"
	"github.com/progression-labs-development/monitoring/internal/ledgerclient"
	"github.com/progression-labs-development/monitoring/internal/serve"
	"github.com/progression-labs-development/monitoring/internal/sweep"
)

const appName = "monitoring"
const component = "detector"

const stateFetchTimeout = 30 * time.Second

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

	var (
		appCfg    mc.Detector
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

	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	cfg.FillFromEnv(flag.CommandLine, "DETECTOR_", func(format string, args ...any) {
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
		"ledger_url", appCfg.LedgerURL,
		"expected_state", appCfg.ExpectedState != "",
		"inventories", len(appCfg.InventorySpecs()),
		"github_enabled", appCfg.GitHubEnabled(),
		"enable_tracing", traceCfg.EnableTracing,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

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

	api, err := buildAPI(ctx, L, &appCfg, m.Registry())
	if err != nil {
		return err
	}

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
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())

	r.Get(serve.HealthyPath, health.HealthzHandler(liveness))
	r.Get(serve.ReadyPath, health.ReadyzHandler(readiness))

	// webhook bodies are bounded per receiver by detectorapi
	api.RegisterRoutes(r)

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
		L.Error(ctx, err, "failed to start detector http listener")
		return err
	}
	defer func() {
		if err := apiHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop detector http listener")
		}
	}()

	if err := serve.NotifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	L.Info(context.Background(), "shutdown signal received")

	serve.Drain(L, &shutdownGate, time.Duration(appCfg.DrainSeconds)*time.Second)

	serve.Shutdown(L, time.Duration(appCfg.ShutdownBudgetSeconds)*time.Second,
		serve.Component{Name: "detector http server", Stop: apiHTTPStop},
		serve.Component{Name: "ops http server", Stop: opsHTTPStop},
		serve.Component{Name: "otel", Stop: shutdownOtelx},
	)

	L.Info(context.Background(), "shutdown complete")
	return nil
}

// buildAPI wires the receivers the configuration enables. The sweep needs an
// expected-state source; the audit receivers need either the state service or
// expected state; the GitHub receiver needs the App credentials.
func buildAPI(ctx context.Context, L log.Logger, c *mc.Detector, reg prometheus.Registerer) (*detectorapi.API, error) {
	ledger := ledgerclient.New(c.LedgerURL, ledgerclient.WithToken(c.LedgerToken))

	opts := []detectorapi.Option{
		detectorapi.WithMetrics(detectorapi.NewMetrics(reg)),
		detectorapi.WithAlertToken(c.AlertToken),
		detectorapi.WithMaxBodyBytes(c.MaxBodyBytes),
	}

	var state sweep.StateSource
	if c.ExpectedState != "" {
		state = &classify.Loader{
			Source: c.ExpectedState,
			Client: &http.Client{
				Timeout:   stateFetchTimeout,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			},
		}

		var enums []sweep.Enumerator
		for _, spec := range c.InventorySpecs() {
			e, err := sweep.ParseInventorySpec(spec)
			if err != nil {
				return nil, fmt.Errorf("inventory %q: %w", spec, err)
			}
			enums = append(enums, e)
		}
		runner := sweep.NewRunner(state, enums, ledger, L, sweep.WithMetrics(sweep.NewMetrics(reg)))
		opts = append(opts, detectorapi.WithSweeper(runner, c.SweepToken))
		L.Info(ctx, "sweep enabled", "enumerators", len(enums))
	}

	var checker detectorapi.StateChecker
	switch {
	case c.StateServiceURL != "":
		checker = detectorapi.NewHTTPStateChecker(c.StateServiceURL)
	case state != nil:
		checker = &detectorapi.ExpectedStateChecker{Source: state}
	}
	if checker != nil {
		var lock detectorapi.DeploymentLock
		if c.DeploymentLockURL != "" {
			lock = detectorapi.NewHTTPDeploymentLock(c.DeploymentLockURL)
		}
		opts = append(opts, detectorapi.WithAuditReceivers(checker, lock))
		L.Info(ctx, "audit receivers enabled", "state_service", c.StateServiceURL != "", "deployment_lock", lock != nil)
	} else {
		L.Warn(ctx, "audit receivers disabled: no state-service-url or expected-state configured")
	}

	if c.GitHubEnabled() {
		key, err := github.ParsePrivateKey(c.GitHubPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("github private key: %w", err)
		}
		app := github.NewApp(c.GitHubAppID, key, c.GitHubAPIURL)
		opts = append(opts, detectorapi.WithGitHub(github.NewRepos(app), c.GitHubWebhookSecret))
		L.Info(ctx, "github receiver enabled", "app_id", c.GitHubAppID)
	}

	return detectorapi.New(L, ledger, opts...), nil
}
