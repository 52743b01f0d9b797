package detectorapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/progression-labs-development/monitoring/internal/audit"
	"github.com/progression-labs-development/monitoring/internal/sweep"
)

const collaboratorTimeout = 10 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   collaboratorTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// ExpectedStateChecker answers StateChecker from the expected-state
// document the sweep classifies against. A resource is known when its id, or
// for ARNs the resource part after the last ':' or '/', is declared.
type ExpectedStateChecker struct {
	Source sweep.StateSource
}

// Exists implements StateChecker.
func (c *ExpectedStateChecker) Exists(ctx context.Context, ev *audit.Event) (bool, error) {
	loaded, err := c.Source.Load(ctx)
	if err != nil {
		return false, err
	}
	if loaded.State.Declares(ev.Cloud, ev.ResourceID) {
		return true, nil
	}
	return loaded.State.Declares(ev.Cloud, arnResource(ev.ResourceID)), nil
}

func arnResource(id string) string {
	if !strings.HasPrefix(id, "arn:") {
		return ""
	}
	if i := strings.LastIndexAny(id, ":/"); i >= 0 {
		return id[i+1:]
	}
	return ""
}

// HTTPStateChecker asks a provisioning state service whether it tracks a
// resource: GET {URL}/resources?id=<resourceId> answering
// {"data":[{"type","id","urn"}]}.
type HTTPStateChecker struct {
	URL    string
	Client *http.Client
}

// NewHTTPStateChecker creates a checker with an instrumented client.
func NewHTTPStateChecker(baseURL string) *HTTPStateChecker {
	return &HTTPStateChecker{URL: strings.TrimRight(baseURL, "/"), Client: newHTTPClient()}
}

// Exists implements StateChecker.
func (c *HTTPStateChecker) Exists(ctx context.Context, ev *audit.Event) (bool, error) {
	u := c.URL + "/resources?id=" + url.QueryEscape(ev.ResourceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return false, fmt.Errorf("state request: %w", err)
	}
	resp, err := c.Client.Do(req) //nolint:gosec // G704: URL is from trusted config
	if err != nil {
		return false, fmt.Errorf("query provisioning state: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("query provisioning state: status %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Data []struct {
			Type string `json:"type"`
			ID   string `json:"id"`
			URN  string `json:"urn"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode provisioning state: %w", err)
	}
	for _, r := range out.Data {
		if r.ID == ev.ResourceID {
			return true, nil
		}
	}
	return false, nil
}

// HTTPDeploymentLock reads {"locked": bool} from a lock endpoint. Any
// failure reads as unlocked so a broken lock service never hides events.
type HTTPDeploymentLock struct {
	URL    string
	Client *http.Client
}

// NewHTTPDeploymentLock creates a lock reader with an instrumented client.
func NewHTTPDeploymentLock(lockURL string) *HTTPDeploymentLock {
	return &HTTPDeploymentLock{URL: lockURL, Client: newHTTPClient()}
}

// Active implements DeploymentLock.
func (l *HTTPDeploymentLock) Active(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, http.NoBody)
	if err != nil {
		return false
	}
	resp, err := l.Client.Do(req) //nolint:gosec // G704: URL is from trusted config
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var out struct {
		Locked bool `json:"locked"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false
	}
	return out.Locked
}
