package github

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultBaseURL = "https://api.github.com"
	apiVersion     = "2022-11-28"
	httpTimeout    = 15 * time.Second

	// GitHub rejects app JWTs that live longer than ten minutes.
	appJWTLifetime = 9 * time.Minute
	tokenRefresh   = time.Minute
)

// ParsePrivateKey accepts a PEM encoded RSA key, raw or base64 wrapped.
func ParsePrivateKey(s string) (*rsa.PrivateKey, error) {
	data := []byte(s)
	if !strings.Contains(s, "-----BEGIN") {
		dec, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("decode app private key: %w", err)
		}
		data = dec
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse app private key: %w", err)
	}
	return key, nil
}

type cachedToken struct {
	token   string
	expires time.Time
}

// App authenticates as a GitHub App and caches installation tokens until
// shortly before they expire.
type App struct {
	id      int64
	key     *rsa.PrivateKey
	baseURL string
	client  *http.Client
	now     func() time.Time

	mu     sync.Mutex
	tokens map[int64]cachedToken
}

// NewApp creates an App. baseURL defaults to DefaultBaseURL.
func NewApp(appID int64, key *rsa.PrivateKey, baseURL string) *App {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &App{
		id:      appID,
		key:     key,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		now:    time.Now,
		tokens: make(map[int64]cachedToken),
	}
}

// JWT returns a signed app token.
func (a *App) JWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		// backdated to tolerate clock drift
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
		Issuer:    strconv.FormatInt(a.id, 10),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("sign app jwt: %w", err)
	}
	return signed, nil
}

// InstallationToken returns a token scoped to one installation.
func (a *App) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	a.mu.Lock()
	if t, ok := a.tokens[installationID]; ok && a.now().Add(tokenRefresh).Before(t.expires) {
		a.mu.Unlock()
		return t.token, nil
	}
	a.mu.Unlock()

	appJWT, err := a.JWT()
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", a.baseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("installation token request: %w", err)
	}
	setHeaders(req, appJWT, "application/vnd.github+json")

	resp, err := a.client.Do(req) //nolint:gosec // G704: baseURL is from trusted config
	if err != nil {
		return "", fmt.Errorf("installation token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("installation token: github returned %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode installation token: %w", err)
	}

	a.mu.Lock()
	a.tokens[installationID] = cachedToken{token: out.Token, expires: out.ExpiresAt}
	a.mu.Unlock()
	return out.Token, nil
}

func setHeaders(req *http.Request, token, accept string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
}
