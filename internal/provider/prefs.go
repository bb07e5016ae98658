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

const prefsFileName = ".homebrain-model-prefs.json"

// Pref is one user's backend and model choice.
type Pref struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

// Prefs persists per-user model preferences.
type Prefs struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	prefs map[string]Pref
}

// NewPrefs loads the preference file from dir (home directory when empty).
func NewPrefs(dir string, logger *slog.Logger) *Prefs {
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

	p := &Prefs{
		path:   filepath.Join(dir, prefsFileName),
		logger: logger.With("component", "model-prefs"),
		prefs:  map[string]Pref{},
	}
	p.load()
	return p
}

// Get returns the user's preference, if any.
func (p *Prefs) Get(userID string) (Pref, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pref, ok := p.prefs[userID]
	return pref, ok
}

// Set stores a user's preference.
func (p *Prefs) Set(userID string, pref Pref) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prefs[userID] = pref
	if err := fsatomic.WriteJSON(p.path, p.prefs, 0o600); err != nil {
		return fmt.Errorf("save model prefs: %w", err)
	}
	return nil
}

// Clear removes a user's preference, reverting them to the default backend.
func (p *Prefs) Clear(userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.prefs, userID)
	if err := fsatomic.WriteJSON(p.path, p.prefs, 0o600); err != nil {
		return fmt.Errorf("save model prefs: %w", err)
	}
	return nil
}

func (p *Prefs) load() {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Warn("failed to read model prefs", "error", err)
		}
		return
	}
	var prefs map[string]Pref
	if err := json.Unmarshal(data, &prefs); err != nil {
		p.logger.Warn("corrupt model prefs file, starting fresh", "error", err)
		return
	}
	if prefs != nil {
		p.prefs = prefs
	}
}
