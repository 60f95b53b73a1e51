// Package store is the durable state layer for the automation engine:
// standing instructions, their evaluation audit trail, agent tasks with
// ordered steps and context entries, synced records, and per-user
// integration flags. Everything lives in a single SQLite database; all
// cross-runner coordination relies on row-level conditional updates.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS instructions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			triggers TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			metadata TEXT,
			last_evaluated_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_instructions_user_status ON instructions(user_id, status)`,
		`CREATE TABLE IF NOT EXISTS instruction_evaluations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			instruction_id TEXT NOT NULL REFERENCES instructions(id),
			event_type TEXT NOT NULL,
			event_payload TEXT,
			outcome TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_evaluations_user ON instruction_evaluations(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS agent_tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			instruction_id TEXT REFERENCES instructions(id),
			type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			summary TEXT NOT NULL,
			scheduled_for TIMESTAMP,
			error_message TEXT,
			metadata TEXT,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			cancelled_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_status ON agent_tasks(user_id, status)`,
		`CREATE TABLE IF NOT EXISTS task_steps (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES agent_tasks(id),
			idx INTEGER NOT NULL,
			title TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			input TEXT,
			output TEXT,
			error TEXT,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(task_id, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS task_context (
			task_id TEXT NOT NULL REFERENCES agent_tasks(id),
			key TEXT NOT NULL,
			value TEXT,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (task_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS synced_records (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			source TEXT NOT NULL,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			metadata TEXT,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_user_occurred ON synced_records(user_id, occurred_at)`,
		`CREATE TABLE IF NOT EXISTS user_integrations (
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			connected INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, provider)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// marshalJSON encodes m for a nullable TEXT column; nil maps become NULL.
func marshalJSON(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal json column: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalJSON(ns sql.NullString) map[string]any {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil
	}
	return m
}
