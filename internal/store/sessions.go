package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertSession records an event against the session registry.
//
// Inserts create the row with event_count 1. Updates bump event_count, refresh
// last_seen and status, and overwrite descriptive fields only when the incoming
// value is non-empty (terminal: non-'{}'), so sparse later events never erase
// what an earlier event reported. ended_at is stamped only when the event
// category maps to the ended status.
func (s *Store) UpsertSession(ctx context.Context, e *Event) error {
	if e.SessionID == "" {
		return nil
	}
	category := e.Category
	if category == "" {
		category = "completion"
	}
	status := StatusForCategory(category)
	terminal := e.Terminal
	if terminal == "" {
		terminal = "{}"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_sessions
			(session_id, parent_session_id, agent_name, project_cwd,
			 git_branch, terminal, status, last_event, event_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(session_id) DO UPDATE SET
			agent_name  = excluded.agent_name,
			parent_session_id = CASE WHEN excluded.parent_session_id != ''
			                         THEN excluded.parent_session_id
			                         ELSE agent_sessions.parent_session_id END,
			project_cwd = CASE WHEN excluded.project_cwd != ''
			                   THEN excluded.project_cwd
			                   ELSE agent_sessions.project_cwd END,
			git_branch  = CASE WHEN excluded.git_branch != ''
			                   THEN excluded.git_branch
			                   ELSE agent_sessions.git_branch END,
			terminal    = CASE WHEN excluded.terminal != '{}'
			                   THEN excluded.terminal
			                   ELSE agent_sessions.terminal END,
			status      = ?,
			last_event  = excluded.last_event,
			last_seen   = `+utcTimestamp+`,
			ended_at    = CASE WHEN ? = 'ended'
			                   THEN `+utcTimestamp+`
			                   ELSE agent_sessions.ended_at END,
			event_count = agent_sessions.event_count + 1`,
		e.SessionID, e.ParentSessionID, e.AgentName, e.ProjectCwd,
		e.GitBranch, terminal, status, category,
		status, status,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", e.SessionID, err)
	}
	return nil
}

// Heartbeat refreshes last_heartbeat and last_seen. Returns false when the
// session is unknown.
func (s *Store) Heartbeat(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_sessions
		SET last_heartbeat = `+utcTimestamp+`,
		    last_seen = `+utcTimestamp+`
		WHERE session_id = ?`,
		sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record heartbeat for %s: %w", sessionID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetSession returns the session with the given ID, or nil if it does not exist.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	err := s.db.GetContext(ctx, &sess,
		"SELECT * FROM agent_sessions WHERE session_id = ?", sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// ListSessions returns sessions ordered by last_seen descending, optionally
// filtered by status.
func (s *Store) ListSessions(ctx context.Context, status string) ([]Session, error) {
	sessions := []Session{}
	var err error
	if status != "" {
		err = s.db.SelectContext(ctx, &sessions,
			"SELECT * FROM agent_sessions WHERE status = ? ORDER BY last_seen DESC", status)
	} else {
		err = s.db.SelectContext(ctx, &sessions,
			"SELECT * FROM agent_sessions ORDER BY last_seen DESC")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// ChildSessions returns the sub-agent sessions spawned under a parent,
// oldest-first.
func (s *Store) ChildSessions(ctx context.Context, parentSessionID string) ([]Session, error) {
	sessions := []Session{}
	err := s.db.SelectContext(ctx, &sessions,
		"SELECT * FROM agent_sessions WHERE parent_session_id = ? ORDER BY first_seen",
		parentSessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list child sessions: %w", err)
	}
	return sessions, nil
}

// StaleSessions returns active or waiting sessions whose last sign of life is
// older than the given number of seconds. Heartbeats count as signs of life;
// sessions that never sent one fall back to last_seen.
func (s *Store) StaleSessions(ctx context.Context, seconds int) ([]Session, error) {
	sessions := []Session{}
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT * FROM agent_sessions
		WHERE status IN ('active', 'waiting')
		  AND COALESCE(NULLIF(last_heartbeat, ''), last_seen)
		      < strftime('%Y-%m-%dT%H:%M:%fZ', 'now', ? || ' seconds')
		ORDER BY last_seen ASC`,
		fmt.Sprintf("-%d", seconds),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale sessions: %w", err)
	}
	return sessions, nil
}
