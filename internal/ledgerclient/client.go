// Package ledgerclient is the detectors' HTTP client for the incident
// ledger. It speaks the same JSON contract the ledger API serves.
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/progression-labs-development/monitoring/internal/incident"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

// Client calls the ledger API at a base URL.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New creates a client for the ledger at baseURL (scheme and host, optional
// path prefix, no trailing slash required).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// StatusError is a non-2xx ledger response.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ledger %s returned %d: %s", e.Op, e.Status, e.Body)
}

// ListOpenByType returns every open incident of type t, following pages
// until the ledger returns a short one. The list is newest first, so an
// incident created while paging can shift a row onto the next page; such
// repeats are dropped by id.
func (c *Client) ListOpenByType(ctx context.Context, t incident.Type) ([]*incident.Incident, error) {
	var (
		all  []*incident.Incident
		seen = make(map[string]struct{})
	)
	for offset := 0; ; {
		page, err := c.listPage(ctx, t, offset)
		if err != nil {
			return nil, err
		}
		for _, inc := range page {
			if _, dup := seen[inc.ID]; dup {
				continue
			}
			seen[inc.ID] = struct{}{}
			all = append(all, inc)
		}
		if len(page) < incident.MaxListLimit {
			return all, nil
		}
		offset += len(page)
	}
}

func (c *Client) listPage(ctx context.Context, t incident.Type, offset int) ([]*incident.Incident, error) {
	q := url.Values{}
	q.Set("status", string(incident.StatusOpen))
	q.Set("type", string(t))
	q.Set("limit", strconv.Itoa(incident.MaxListLimit))
	q.Set("offset", strconv.Itoa(offset))

	var out struct {
		Data []*incident.Incident `json:"data"`
	}
	if err := c.do(ctx, "list incidents", http.MethodGet, "/incidents?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CreateIncident posts p and returns the stored incident.
func (c *Client) CreateIncident(ctx context.Context, p incident.Payload) (*incident.Incident, error) {
	var out incident.Incident
	if err := c.do(ctx, "create incident", http.MethodPost, "/incidents", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveIncident moves incident id to a terminal status with outcome. An
// empty status lets the ledger default it.
func (c *Client) ResolveIncident(ctx context.Context, id string, status incident.Status, outcome map[string]any) (*incident.Incident, error) {
	body := struct {
		Status  incident.Status `json:"status,omitempty"`
		Outcome map[string]any  `json:"outcome"`
	}{status, outcome}

	var out incident.Incident
	if err := c.do(ctx, "resolve incident", http.MethodPatch, "/incidents/"+url.PathEscape(id)+"/resolve", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("ledger %s: marshal: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("ledger %s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req) //nolint:gosec // G704: baseURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("ledger %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: string(b)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ledger %s: decode response: %w", op, err)
	}
	return nil
}
