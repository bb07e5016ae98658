// Package facts persists per-user facts as single JSON files keyed by a
// normalized slug.
package facts

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/earchibald/home-brain-sub000/internal/fsatomic"
	"github.com/earchibald/home-brain-sub000/pkg/models"
)

// filePrefix names the per-user facts file: <dir>/.homebrain-facts-<user>.json.
const filePrefix = ".homebrain-facts-"

// StoreResult reports what a Store call did.
type StoreResult struct {
	PrevValue string
	WasUpdate bool
}

// Store is the per-user facts store. All mutations persist atomically with
// mode 0600. A per-user mutex serializes writers; concurrent reads are safe.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a facts store rooted at dir. If dir is empty the user's
// home directory is used.
func NewStore(dir string, logger *slog.Logger) *Store {
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
	return &Store{
		dir:    dir,
		logger: logger.With("component", "facts"),
		locks:  map[string]*sync.Mutex{},
	}
}

// NormalizeKey lowercases a key and replaces spaces with underscores.
// Normalization is stable: NormalizeKey(NormalizeKey(k)) == NormalizeKey(k).
func NormalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	key = strings.Join(strings.Fields(key), "_")
	return key
}

// Store creates or updates a fact for the user.
func (s *Store) Store(userID, key, value, category string) (StoreResult, error) {
	slug := NormalizeKey(key)
	if slug == "" {
		return StoreResult{}, fmt.Errorf("fact key is empty")
	}

	unlock := s.lock(userID)
	defer unlock()

	all := s.load(userID)
	now := time.Now()

	result := StoreResult{}
	if prev, ok := all[slug]; ok {
		result.PrevValue = prev.Value
		result.WasUpdate = true
		prev.Value = value
		prev.Category = models.NormalizeFactCategory(category)
		prev.LastUpdated = now
		all[slug] = prev
	} else {
		all[slug] = models.Fact{
			Key:         slug,
			Value:       value,
			Category:    models.NormalizeFactCategory(category),
			CreatedAt:   now,
			LastUpdated: now,
		}
	}

	if err := s.save(userID, all); err != nil {
		return StoreResult{}, err
	}
	return result, nil
}

// Get returns the fact stored under the normalized form of key.
func (s *Store) Get(userID, key string) (models.Fact, bool) {
	unlock := s.lock(userID)
	defer unlock()

	fact, ok := s.load(userID)[NormalizeKey(key)]
	return fact, ok
}

// List returns the user's facts ordered by last_updated descending.
// An empty category matches everything.
func (s *Store) List(userID, category string) []models.Fact {
	unlock := s.lock(userID)
	defer unlock()

	var want models.FactCategory
	if category != "" {
		want = models.NormalizeFactCategory(category)
	}

	all := s.load(userID)
	out := make([]models.Fact, 0, len(all))
	for _, f := range all {
		if want != "" && f.Category != want {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].Key < out[j].Key
		}
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})
	return out
}

// Delete removes a fact. Returns whether it existed.
func (s *Store) Delete(userID, key string) (bool, error) {
	slug := NormalizeKey(key)

	unlock := s.lock(userID)
	defer unlock()

	all := s.load(userID)
	if _, ok := all[slug]; !ok {
		return false, nil
	}
	delete(all, slug)
	if err := s.save(userID, all); err != nil {
		return false, err
	}
	return true, nil
}

// ClearAll removes every fact for the user and returns how many were removed.
func (s *Store) ClearAll(userID string) (int, error) {
	unlock := s.lock(userID)
	defer unlock()

	all := s.load(userID)
	count := len(all)
	if count == 0 {
		return 0, nil
	}
	if err := s.save(userID, map[string]models.Fact{}); err != nil {
		return 0, err
	}
	return count, nil
}

// ContextString renders the user's facts for prompt injection, most recently
// updated first, capped at limit. Returns "" when the user has no facts.
func (s *Store) ContextString(userID string, limit int) string {
	if limit <= 0 {
		limit = 20
	}
	all := s.List(userID, "")
	if len(all) == 0 {
		return ""
	}
	if len(all) > limit {
		all = all[:limit]
	}

	var b strings.Builder
	b.WriteString("Known facts about this user:\n")
	for _, f := range all {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", f.Category, f.Key, f.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Store) path(userID string) string {
	return filepath.Join(s.dir, filePrefix+userID+".json")
}

// load reads the user's facts file. Corrupt or missing files read as empty;
// the next save overwrites them.
func (s *Store) load(userID string) map[string]models.Fact {
	data, err := os.ReadFile(s.path(userID))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read facts file", "user", userID, "error", err)
		}
		return map[string]models.Fact{}
	}
	var all map[string]models.Fact
	if err := json.Unmarshal(data, &all); err != nil {
		s.logger.Warn("corrupt facts file, treating as empty", "user", userID, "error", err)
		return map[string]models.Fact{}
	}
	if all == nil {
		all = map[string]models.Fact{}
	}
	return all
}

func (s *Store) save(userID string, all map[string]models.Fact) error {
	if err := fsatomic.WriteJSON(s.path(userID), all, 0o600); err != nil {
		return fmt.Errorf("save facts for %s: %w", userID, err)
	}
	return nil
}

func (s *Store) lock(userID string) func() {
	s.mu.Lock()
	l := s.locks[userID]
	if l == nil {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}
