package classify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SupportedVersion is the only expected-state document version understood.
const SupportedVersion = 1

const maxStateBytes = 32 << 20

// Loaded is a parsed expected-state document plus a digest of its raw bytes.
type Loaded struct {
	State  *ExpectedState
	Digest string
}

// Loader fetches expected state from a local path or an http(s) URL (for
// example a signed object-storage URL).
type Loader struct {
	Source string
	Client *http.Client
}

// Load reads, decodes and version-checks the document. YAML is chosen by a
// .yaml or .yml extension, everything else is decoded as JSON.
func (l *Loader) Load(ctx context.Context) (*Loaded, error) {
	if l.Source == "" {
		return nil, fmt.Errorf("expected state: no source configured")
	}

	data, name, err := l.read(ctx)
	if err != nil {
		return nil, err
	}

	state, err := Decode(data, name)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	return &Loaded{State: state, Digest: "sha256:" + hex.EncodeToString(sum[:])}, nil
}

// Decode parses an expected-state document. name is used only to pick the
// format.
func Decode(data []byte, name string) (*ExpectedState, error) {
	var state ExpectedState
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("parse expected state yaml: %w", err)
		}
	default:
		if err := json.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
			return nil, fmt.Errorf("parse expected state json: %w", err)
		}
	}
	if state.Version != SupportedVersion {
		return nil, fmt.Errorf("unsupported expected-state version: %d", state.Version)
	}
	return &state, nil
}

func (l *Loader) read(ctx context.Context) ([]byte, string, error) {
	if !strings.HasPrefix(l.Source, "http://") && !strings.HasPrefix(l.Source, "https://") {
		data, err := os.ReadFile(l.Source)
		if err != nil {
			return nil, "", fmt.Errorf("read expected state: %w", err)
		}
		return data, l.Source, nil
	}

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.Source, http.NoBody)
	if err != nil {
		return nil, "", fmt.Errorf("expected state request: %w", err)
	}
	resp, err := client.Do(req) //nolint:gosec // source is operator config
	if err != nil {
		return nil, "", fmt.Errorf("fetch expected state: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("fetch expected state: status %d: %s", resp.StatusCode, string(body))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxStateBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read expected state body: %w", err)
	}

	// signed URLs carry a query string; only the path decides the format
	name := req.URL.Path
	if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "yaml") {
		name = path.Base(name) + ".yaml"
	}
	return data, name, nil
}
