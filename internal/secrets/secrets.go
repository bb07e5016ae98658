// Package secrets resolves named secrets from a remote secret store with an
// environment-variable fallback.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// SecretPrefix marks a config value as a secret reference ("secret:NAME").
const SecretPrefix = "secret:"

// Store resolves secret names to values.
type Store interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// EnvStore resolves secrets from environment variables. Used when no remote
// store is configured.
type EnvStore struct{}

// GetSecret returns the environment variable with the given name.
func (EnvStore) GetSecret(_ context.Context, name string) (string, error) {
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("secret %q not set in environment", name)
}

// HTTPStore fetches secrets from a remote secret store over HTTP.
type HTTPStore struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPStore creates a client for the secret store at baseURL.
func NewHTTPStore(baseURL, token string, logger *slog.Logger) *HTTPStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With("component", "secrets"),
	}
}

// GetSecret fetches one secret by name.
func (s *HTTPStore) GetSecret(ctx context.Context, name string) (string, error) {
	u := s.baseURL + "/api/secrets/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("secret store request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("secret %q not found", name)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("secret store HTTP %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	return payload.Value, nil
}

// Resolve expands a config value. Values of the form "secret:NAME" are
// looked up in the store; anything else is returned unchanged.
func Resolve(ctx context.Context, store Store, value string) (string, error) {
	if !strings.HasPrefix(value, SecretPrefix) {
		return value, nil
	}
	name := strings.TrimPrefix(value, SecretPrefix)
	if name == "" {
		return "", fmt.Errorf("empty secret reference")
	}
	return store.GetSecret(ctx, name)
}

// ResolveMap expands every secret reference in a map in place.
func ResolveMap(ctx context.Context, store Store, m map[string]string) error {
	for k, v := range m {
		resolved, err := Resolve(ctx, store, v)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", k, err)
		}
		m[k] = resolved
	}
	return nil
}
