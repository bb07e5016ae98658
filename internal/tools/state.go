package tools

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/earchibald/home-brain-sub000/internal/fsatomic"
)

const stateFileName = ".homebrain-tool-state.json"

// UserState persists per-user tool enablement. Tools default to enabled;
// only explicit overrides are stored.
type UserState struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
	// user -> tool -> enabled
	overrides map[string]map[string]bool
}

// NewUserState loads (or initializes) the enable-state file in dir. An empty
// dir means the user's home directory.
func NewUserState(dir string, logger *slog.Logger) *UserState {
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

	s := &UserState{
		path:      filepath.Join(dir, stateFileName),
		logger:    logger.With("component", "tool-state"),
		overrides: map[string]map[string]bool{},
	}
	s.load()
	return s
}

// Enabled reports whether a tool is enabled for a user. Unknown tools are
// enabled.
func (s *UserState) Enabled(userID, tool string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.overrides[userID]; ok {
		if v, ok := m[tool]; ok {
			return v
		}
	}
	return true
}

// SetEnabled records an explicit per-user override and persists it.
func (s *UserState) SetEnabled(userID, tool string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.overrides[userID]
	if m == nil {
		m = map[string]bool{}
		s.overrides[userID] = m
	}
	m[tool] = enabled

	if err := fsatomic.WriteJSON(s.path, s.overrides, 0o600); err != nil {
		return fmt.Errorf("save tool state: %w", err)
	}
	return nil
}

func (s *UserState) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read tool state", "error", err)
		}
		return
	}
	var overrides map[string]map[string]bool
	if err := json.Unmarshal(data, &overrides); err != nil {
		s.logger.Warn("corrupt tool state file, starting fresh", "error", err)
		return
	}
	if overrides != nil {
		s.overrides = overrides
	}
}
