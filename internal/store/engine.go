// Package store is the SQLite persistence layer: character records, the
// per-character QA memory document, and the append-only conversation log.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type Engine struct {
	db *sql.DB
}

func NewEngine(dbPath string) (*Engine, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	// Transactions begin IMMEDIATE so read-modify-write paths (the qa
	// memory patch) take the write lock up front and queue behind
	// busy_timeout instead of failing the snapshot upgrade mid-way.
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	e := &Engine{db: db}
	if err := e.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := e.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := e.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func (e *Engine) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS characters (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			species TEXT NOT NULL,
			personality TEXT NOT NULL DEFAULT '',
			stage_index INTEGER NOT NULL DEFAULT 0,
			happiness INTEGER NOT NULL DEFAULT 50,
			hunger INTEGER NOT NULL DEFAULT 50,
			health INTEGER NOT NULL DEFAULT 100,
			intimacy_score REAL NOT NULL DEFAULT 0,
			intimacy_daily_date TEXT NOT NULL DEFAULT '',
			intimacy_daily_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_characters_user ON characters(user_id)`,
		`CREATE TABLE IF NOT EXISTS character_qa_memories (
			character_id TEXT PRIMARY KEY REFERENCES characters(id),
			qa_data TEXT NOT NULL DEFAULT '{}',
			version INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS character_conversations (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			character_id TEXT NOT NULL REFERENCES characters(id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_character ON character_conversations(character_id, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := e.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Stats is a compact snapshot used by status reporting.
type Stats struct {
	Characters int64
	Turns      int64
	Memories   int64
}

func (e *Engine) Stats() (*Stats, error) {
	s := &Stats{}
	rows := []struct {
		query string
		dst   *int64
	}{
		{"SELECT COUNT(*) FROM characters", &s.Characters},
		{"SELECT COUNT(*) FROM character_conversations", &s.Turns},
		{"SELECT COUNT(*) FROM character_qa_memories", &s.Memories},
	}
	for _, r := range rows {
		if err := e.db.QueryRow(r.query).Scan(r.dst); err != nil {
			return nil, fmt.Errorf("stats query: %w", err)
		}
	}
	return s, nil
}
