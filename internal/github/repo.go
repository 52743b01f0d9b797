package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const maxContentBytes = 16 << 20

// TokenSource yields an installation access token.
type TokenSource interface {
	InstallationToken(ctx context.Context, installationID int64) (string, error)
}

// Repos reads repository content on behalf of an installation.
type Repos struct {
	tokens  TokenSource
	baseURL string
	client  *http.Client
}

// NewRepos creates a Repos that authenticates through app.
func NewRepos(app *App) *Repos {
	return &Repos{tokens: app, baseURL: app.baseURL, client: app.client}
}

// CommitDiff returns the unified diff of one commit.
func (r *Repos) CommitDiff(ctx context.Context, installationID int64, owner, repo, sha string) (string, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/commits/%s", r.baseURL, url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(sha))
	body, status, err := r.get(ctx, installationID, u, "application/vnd.github.diff")
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("fetch diff for %s/%s@%s: github returned %d", owner, repo, sha, status)
	}
	return body, nil
}

// FileContent returns the raw content of path at ref. ok is false when the
// file does not exist.
func (r *Repos) FileContent(ctx context.Context, installationID int64, owner, repo, path, ref string) (content string, ok bool, err error) {
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s", r.baseURL, url.PathEscape(owner), url.PathEscape(repo), path, url.QueryEscape(ref))
	body, status, err := r.get(ctx, installationID, u, "application/vnd.github.raw+json")
	if err != nil {
		return "", false, err
	}
	switch status {
	case http.StatusOK:
		return body, true, nil
	case http.StatusNotFound:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("fetch %s from %s/%s: github returned %d", path, owner, repo, status)
	}
}

func (r *Repos) get(ctx context.Context, installationID int64, u, accept string) (string, int, error) {
	token, err := r.tokens.InstallationToken(ctx, installationID)
	if err != nil {
		return "", 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return "", 0, fmt.Errorf("github request: %w", err)
	}
	setHeaders(req, token, accept)

	resp, err := r.client.Do(req) //nolint:gosec // G704: baseURL is from trusted config
	if err != nil {
		return "", 0, fmt.Errorf("github request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxContentBytes))
	if err != nil {
		return "", 0, fmt.Errorf("read github response: %w", err)
	}
	return string(body), resp.StatusCode, nil
}
