// Package store provides the SQLite event store, session registry, mesh
// message queue, coordination rules, task queue, and shared context.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/common/sqlite"
)

const busyTimeout = 5 * time.Second

// utcTimestamp is the strftime pattern used for all stored timestamps:
// ISO-8601 UTC with millisecond precision, so lexical order is temporal order.
const utcTimestamp = "strftime('%Y-%m-%dT%H:%M:%fZ','now')"

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_name        TEXT NOT NULL,
    session_id        TEXT NOT NULL DEFAULT '',
    parent_session_id TEXT NOT NULL DEFAULT '',
    category          TEXT NOT NULL DEFAULT 'completion',
    title             TEXT NOT NULL,
    message           TEXT NOT NULL DEFAULT '',
    project_cwd       TEXT NOT NULL DEFAULT '',
    git_branch        TEXT NOT NULL DEFAULT '',
    terminal          TEXT NOT NULL DEFAULT '{}',
    work_summary      TEXT NOT NULL DEFAULT '',
    created_at        TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TABLE IF NOT EXISTS agent_sessions (
    session_id        TEXT PRIMARY KEY,
    parent_session_id TEXT NOT NULL DEFAULT '',
    agent_name        TEXT NOT NULL,
    project_cwd       TEXT NOT NULL DEFAULT '',
    git_branch        TEXT NOT NULL DEFAULT '',
    terminal          TEXT NOT NULL DEFAULT '{}',
    status            TEXT NOT NULL DEFAULT 'active',
    last_event        TEXT NOT NULL DEFAULT 'completion',
    first_seen        TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
    last_seen         TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
    last_heartbeat    TEXT NOT NULL DEFAULT '',
    ended_at          TEXT NOT NULL DEFAULT '',
    event_count       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS preferences (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS messages (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    from_session  TEXT NOT NULL,
    to_session    TEXT NOT NULL,
    message_type  TEXT NOT NULL DEFAULT 'handoff',
    content       TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT 'pending',
    created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
    delivered_at  TEXT
);

CREATE TABLE IF NOT EXISTS coordination_rules (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    from_agent  TEXT NOT NULL DEFAULT '*',
    to_agent    TEXT NOT NULL DEFAULT '*',
    event_type  TEXT NOT NULL DEFAULT '*',
    action      TEXT NOT NULL DEFAULT 'approve',
    priority    INTEGER NOT NULL DEFAULT 0,
    template    TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TABLE IF NOT EXISTS tasks (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id    TEXT NOT NULL DEFAULT '',
    title         TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT 'pending',
    priority      TEXT NOT NULL DEFAULT 'medium',
    dependencies  TEXT NOT NULL DEFAULT '[]',
    created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
    updated_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TABLE IF NOT EXISTS context (
    key           TEXT NOT NULL,
    scope         TEXT NOT NULL DEFAULT 'global',
    value         TEXT NOT NULL DEFAULT '',
    updated_by    TEXT NOT NULL DEFAULT '',
    updated_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
    PRIMARY KEY (key, scope)
);

CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent_name);
CREATE INDEX IF NOT EXISTS idx_events_category ON events(category);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);
CREATE INDEX IF NOT EXISTS idx_messages_to ON messages(to_session);
CREATE INDEX IF NOT EXISTS idx_sessions_parent ON agent_sessions(parent_session_id);
CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_context_scope ON context(scope);
`

// Store wraps the SQLite database behind typed queries.
type Store struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// Open opens (creating if needed) the database at path and applies the schema
// and migrations. Writes are serialized through a single connection, which
// with WAL mode avoids SQLITE_BUSY for a local single-process daemon.
func Open(path string, log *logger.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to prepare database path: %w", err)
		}
	}

	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=rwc&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		path,
		int(busyTimeout/time.Millisecond),
	)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: log}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s.migrate()
}

// migrate adds columns introduced after the first release so older database
// files keep working in place.
func (s *Store) migrate() error {
	migrations := []struct {
		table, column, definition string
	}{
		{"events", "parent_session_id", "TEXT NOT NULL DEFAULT ''"},
		{"events", "work_summary", "TEXT NOT NULL DEFAULT ''"},
		{"agent_sessions", "parent_session_id", "TEXT NOT NULL DEFAULT ''"},
		{"agent_sessions", "last_heartbeat", "TEXT NOT NULL DEFAULT ''"},
		{"agent_sessions", "ended_at", "TEXT NOT NULL DEFAULT ''"},
		{"coordination_rules", "priority", "INTEGER NOT NULL DEFAULT 0"},
		{"coordination_rules", "template", "TEXT NOT NULL DEFAULT ''"},
	}
	for _, m := range migrations {
		if err := sqlite.EnsureColumn(s.db.DB, m.table, m.column, m.definition); err != nil {
			return fmt.Errorf("failed to migrate %s.%s: %w", m.table, m.column, err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// clampLimit bounds a caller-supplied limit to [1, 1000].
func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
