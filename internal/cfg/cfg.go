// Package cfg holds the application configuration of the ledger and detector
// binaries. Fields are bound to flags by RegisterFlags and filled from the
// environment by go-core/cfg.FillFromEnv in main.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
)

// Server is the listener and shutdown configuration shared by both binaries.
type Server struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
}

// RegisterFlags binds Server fields to the given FlagSet with defaults inline
func (c *Server) RegisterFlags(fs *flag.FlagSet, defaultPort int) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", defaultPort, "API listen TCP port (1..65535)")
}

func (c *Server) validate() []error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}
	return errs
}

// Ledger configures the incident ledger service.
type Ledger struct {
	Server

	DatabaseURL      string
	DBMaxConns       int
	SlowQueryMillis  int
	APIToken         string
	AgentWebhookURL  string
	AgentWebhookAuth string
	SlackWebhookURL  string
	CORSOrigins      string
}

// RegisterFlags binds Ledger fields to the given FlagSet with defaults inline
func (c *Ledger) RegisterFlags(fs *flag.FlagSet) {
	c.Server.RegisterFlags(fs, 3000)
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 10, "maximum PostgreSQL pool connections (1..100)")
	fs.IntVar(&c.SlowQueryMillis, "db-slow-query-ms", 0, "only log successful queries slower than this (0 = log all)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /incidents (empty = no auth)")
	fs.StringVar(&c.AgentWebhookURL, "agent-webhook-url", "", "URL receiving every incident event")
	fs.StringVar(&c.AgentWebhookAuth, "agent-webhook-token", "", "bearer token sent to the agent webhook")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack incoming webhook for critical and high incidents")
	fs.StringVar(&c.CORSOrigins, "cors-origins", "", "comma-separated origins allowed to call the API from a browser")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Ledger) Validate() error {
	errs := c.Server.validate()

	if c.DBMaxConns <= 0 || c.DBMaxConns > 100 {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be 1..100)", c.DBMaxConns))
	}
	if c.SlowQueryMillis < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY_MS %d (must be >= 0)", c.SlowQueryMillis))
	}
	if err := optionalURL("AGENT_WEBHOOK_URL", c.AgentWebhookURL); err != nil {
		errs = append(errs, err)
	}
	if err := optionalURL("SLACK_WEBHOOK_URL", c.SlackWebhookURL); err != nil {
		errs = append(errs, err)
	}
	if c.AgentWebhookAuth != "" && c.AgentWebhookURL == "" {
		errs = append(errs, errors.New("AGENT_WEBHOOK_TOKEN set without AGENT_WEBHOOK_URL"))
	}

	return errors.Join(errs...)
}

// Origins splits CORSOrigins, dropping blanks.
func (c *Ledger) Origins() []string {
	return splitList(c.CORSOrigins)
}

// Detector configures the detector service.
type Detector struct {
	Server

	LedgerURL   string
	LedgerToken string

	ExpectedState     string
	Inventories       string
	StateServiceURL   string
	DeploymentLockURL string

	SweepToken string
	AlertToken string

	GitHubAppID         int64
	GitHubPrivateKey    string
	GitHubWebhookSecret string
	GitHubAPIURL        string

	MaxBodyBytes int64
}

// RegisterFlags binds Detector fields to the given FlagSet with defaults inline
func (c *Detector) RegisterFlags(fs *flag.FlagSet) {
	c.Server.RegisterFlags(fs, 3001)
	fs.StringVar(&c.LedgerURL, "ledger-url", "http://localhost:3000", "base URL of the incident ledger")
	fs.StringVar(&c.LedgerToken, "ledger-token", "", "bearer token for the incident ledger")
	fs.StringVar(&c.ExpectedState, "expected-state", "", "expected-state document: file path or http(s) URL")
	fs.StringVar(&c.Inventories, "inventory", "", "comma-separated live inventories, each [cloud=]path")
	fs.StringVar(&c.StateServiceURL, "state-service-url", "", "provisioning state service answering /resources?id= (empty = use expected state)")
	fs.StringVar(&c.DeploymentLockURL, "deployment-lock-url", "", "URL answering {\"locked\":bool} while a deployment runs")
	fs.StringVar(&c.SweepToken, "sweep-token", "", "bearer token required on POST /sweep")
	fs.StringVar(&c.AlertToken, "alert-token", "", "bearer token required on POST /webhook/alerts")
	fs.Int64Var(&c.GitHubAppID, "github-app-id", 0, "GitHub App id (0 = GitHub receiver disabled)")
	fs.StringVar(&c.GitHubPrivateKey, "github-private-key", "", "GitHub App private key, PEM or base64 PEM")
	fs.StringVar(&c.GitHubWebhookSecret, "github-webhook-secret", "", "secret used to verify GitHub webhook signatures")
	fs.StringVar(&c.GitHubAPIURL, "github-api-url", "https://api.github.com", "GitHub REST API base URL")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 1<<20, "maximum webhook request body in bytes")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Detector) Validate() error {
	errs := c.Server.validate()

	if c.LedgerURL == "" {
		errs = append(errs, errors.New("LEDGER_URL is required"))
	} else if err := optionalURL("LEDGER_URL", c.LedgerURL); err != nil {
		errs = append(errs, err)
	}
	for _, spec := range c.InventorySpecs() {
		if strings.HasSuffix(spec, "=") {
			errs = append(errs, fmt.Errorf("invalid INVENTORY entry %q (missing path)", spec))
		}
	}
	if len(c.InventorySpecs()) > 0 && c.ExpectedState == "" {
		errs = append(errs, errors.New("EXPECTED_STATE is required when INVENTORY is set"))
	}
	if err := optionalURL("STATE_SERVICE_URL", c.StateServiceURL); err != nil {
		errs = append(errs, err)
	}
	if err := optionalURL("DEPLOYMENT_LOCK_URL", c.DeploymentLockURL); err != nil {
		errs = append(errs, err)
	}

	// GitHub App settings are all or nothing
	if c.GitHubAppID < 0 {
		errs = append(errs, fmt.Errorf("invalid GITHUB_APP_ID %d", c.GitHubAppID))
	}
	if c.GitHubEnabled() {
		if c.GitHubPrivateKey == "" {
			errs = append(errs, errors.New("GITHUB_PRIVATE_KEY is required when GITHUB_APP_ID is set"))
		}
		if c.GitHubWebhookSecret == "" {
			errs = append(errs, errors.New("GITHUB_WEBHOOK_SECRET is required when GITHUB_APP_ID is set"))
		}
		if err := optionalURL("GITHUB_API_URL", c.GitHubAPIURL); err != nil {
			errs = append(errs, err)
		}
	}

	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_BODY_BYTES %d (must be > 0)", c.MaxBodyBytes))
	}

	return errors.Join(errs...)
}

// InventorySpecs splits Inventories, dropping blanks.
func (c *Detector) InventorySpecs() []string {
	return splitList(c.Inventories)
}

// GitHubEnabled reports whether the GitHub push receiver should be mounted.
func (c *Detector) GitHubEnabled() bool {
	return c.GitHubAppID > 0
}

func optionalURL(name, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s %q (must be an http(s) URL)", name, raw)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
