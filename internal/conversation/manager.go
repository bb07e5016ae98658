// Package conversation persists per-(user, thread) message history under the
// brain folder and keeps it inside a token budget via summarization.
package conversation

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

// Manager owns conversation files under <root>/users/<user>/conversations/.
// Writers on the same (user, thread) key are serialized in-process; files are
// written via temp-then-rename so a crash never leaves a torn record.
type Manager struct {
	root   string
	logger *slog.Logger
	index  *Index

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a conversation manager rooted at the brain folder.
// index may be nil to disable keyword search over past exchanges.
func NewManager(root string, index *Index, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		root:   root,
		logger: logger.With("component", "conversation"),
		index:  index,
		locks:  map[string]*sync.Mutex{},
	}
}

// Load returns the stored messages for a thread, oldest first. Corrupt or
// missing files read as empty and are overwritten on the next save.
func (m *Manager) Load(userID, threadID string) []models.Message {
	unlock := m.lock(userID, threadID)
	defer unlock()

	conv := m.read(userID, threadID)
	return conv.Messages
}

// Save appends one turn to a thread and persists it.
func (m *Manager) Save(userID, threadID string, role models.Role, content string, metadata map[string]any) error {
	unlock := m.lock(userID, threadID)
	defer unlock()

	conv := m.read(userID, threadID)
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UserID = userID
	conv.ThreadID = threadID
	conv.UpdatedAt = now

	msg := models.Message{
		Role:      role,
		Content:   content,
		Timestamp: now,
		Metadata:  metadata,
	}
	conv.Messages = append(conv.Messages, msg)

	if err := m.write(userID, threadID, conv); err != nil {
		return err
	}

	// Index completed exchanges for keyword recall.
	if m.index != nil && role == models.RoleAssistant {
		if q := lastUserContent(conv.Messages); q != "" {
			if err := m.index.RecordExchange(userID, threadID, q, content, now); err != nil {
				m.logger.Warn("failed to index exchange", "user", userID, "error", err)
			}
		}
	}
	return nil
}

// List returns metadata for every stored thread of a user, most recently
// updated first.
func (m *Manager) List(userID string) []models.ThreadMeta {
	dir := m.threadDir(userID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var out []models.ThreadMeta
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		threadID := strings.TrimSuffix(e.Name(), ".json")
		conv := m.read(userID, threadID)
		out = append(out, models.ThreadMeta{
			ThreadID:     threadID,
			UserID:       userID,
			MessageCount: len(conv.Messages),
			UpdatedAt:    conv.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Delete removes a thread. Returns whether it existed.
func (m *Manager) Delete(userID, threadID string) bool {
	unlock := m.lock(userID, threadID)
	defer unlock()

	err := os.Remove(m.threadPath(userID, threadID))
	if err != nil {
		return false
	}
	return true
}

// SearchPast finds historical exchanges matching the query keyword. userID
// may be empty to search across users. Returns nothing when no index is
// configured.
func (m *Manager) SearchPast(query, userID string, limit int) []Exchange {
	if m.index == nil {
		return nil
	}
	hits, err := m.index.Search(query, userID, limit)
	if err != nil {
		m.logger.Warn("past-conversation search failed", "error", err)
		return nil
	}
	return hits
}

func (m *Manager) threadDir(userID string) string {
	return filepath.Join(m.root, "users", userID, "conversations")
}

func (m *Manager) threadPath(userID, threadID string) string {
	return filepath.Join(m.threadDir(userID), threadID+".json")
}

func (m *Manager) read(userID, threadID string) models.Conversation {
	empty := models.Conversation{UserID: userID, ThreadID: threadID}

	data, err := os.ReadFile(m.threadPath(userID, threadID))
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("failed to read conversation", "user", userID, "thread", threadID, "error", err)
		}
		return empty
	}

	var conv models.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		m.logger.Warn("corrupt conversation file, treating as empty",
			"user", userID, "thread", threadID, "error", err)
		return empty
	}

	// The on-disk record is append-mostly but concurrent processes may have
	// interleaved; present turns in timestamp order.
	sort.SliceStable(conv.Messages, func(i, j int) bool {
		return conv.Messages[i].Timestamp.Before(conv.Messages[j].Timestamp)
	})
	return conv
}

func (m *Manager) write(userID, threadID string, conv models.Conversation) error {
	if err := fsatomic.WriteJSON(m.threadPath(userID, threadID), conv, 0o644); err != nil {
		return fmt.Errorf("save conversation %s/%s: %w", userID, threadID, err)
	}
	return nil
}

func (m *Manager) lock(userID, threadID string) func() {
	key := userID + "\x00" + threadID
	m.mu.Lock()
	l := m.locks[key]
	if l == nil {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func lastUserContent(msgs []models.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
