package conversation

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Exchange is one question/answer pair recalled from past conversations.
type Exchange struct {
	UserID    string    `json:"user_id"`
	ThreadID  string    `json:"thread_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// Index is a derived keyword index over completed exchanges, stored in
// SQLite. It is rebuildable; the conversation JSON files stay authoritative.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (and if needed creates) the exchange index at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	// Single-writer access pattern; a second connection would only contend.
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT NOT NULL,
	thread_id  TEXT NOT NULL,
	question   TEXT NOT NULL,
	answer     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exchanges_user ON exchanges(user_id, created_at);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// RecordExchange stores one completed question/answer pair.
func (ix *Index) RecordExchange(userID, threadID, question, answer string, at time.Time) error {
	_, err := ix.db.Exec(
		`INSERT INTO exchanges (user_id, thread_id, question, answer, created_at) VALUES (?, ?, ?, ?, ?)`,
		userID, threadID, question, answer, at,
	)
	return err
}

// Search returns exchanges whose question or answer contains the query,
// newest first. userID may be empty to search across users.
func (ix *Index) Search(query, userID string, limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = 5
	}
	pattern := "%" + query + "%"

	rows, err := ix.db.Query(
		`SELECT user_id, thread_id, question, answer, created_at
		 FROM exchanges
		 WHERE (question LIKE ? OR answer LIKE ?) AND (? = '' OR user_id = ?)
		 ORDER BY created_at DESC
		 LIMIT ?`,
		pattern, pattern, userID, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var e Exchange
		if err := rows.Scan(&e.UserID, &e.ThreadID, &e.Question, &e.Answer, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
