package provider

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/earchibald/home-brain-sub000/internal/fsatomic"
)

const apiKeysFileName = ".homebrain-api-keys.json"

// APIKeys persists per-user keys for the hosted backends. The file is mode
// 0600; keys never appear in logs.
type APIKeys struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
	// user -> provider -> key
	keys map[string]map[string]string
}

// NewAPIKeys loads the key file from dir (home directory when empty).
func NewAPIKeys(dir string, logger *slog.Logger) *APIKeys {
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = home
		} else {
			dir = "."
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	k := &APIKeys{
		path:   filepath.Join(dir, apiKeysFileName),
		logger: logger.With("component", "apikeys"),
		keys:   map[string]map[string]string{},
	}
	k.load()
	return k
}

// Get returns the user's key for a provider, if set.
func (k *APIKeys) Get(userID, providerName string) (string, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if m, ok := k.keys[userID]; ok {
		if key, ok := m[providerName]; ok && key != "" {
			return key, true
		}
	}
	return "", false
}

// Set stores a user's key for a provider. An empty key removes it.
func (k *APIKeys) Set(userID, providerName, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	m := k.keys[userID]
	if m == nil {
		m = map[string]string{}
		k.keys[userID] = m
	}
	if key == "" {
		delete(m, providerName)
	} else {
		m[providerName] = key
	}

	if err := fsatomic.WriteJSON(k.path, k.keys, 0o600); err != nil {
		return fmt.Errorf("save api keys: %w", err)
	}
	return nil
}

func (k *APIKeys) load() {
	data, err := os.ReadFile(k.path)
	if err != nil {
		if !os.IsNotExist(err) {
			k.logger.Warn("failed to read api key file", "error", err)
		}
		return
	}
	var keys map[string]map[string]string
	if err := json.Unmarshal(data, &keys); err != nil {
		k.logger.Warn("corrupt api key file, starting fresh", "error", err)
		return
	}
	if keys != nil {
		k.keys = keys
	}
}
