package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// EventFilter narrows ListEvents. Zero values mean "no filter".
type EventFilter struct {
	Agent    string
	Category string
	Project  string // substring match on project_cwd
	Since    string // inclusive lower bound on created_at
	Limit    int
}

// InsertEvent stores an event and returns its row ID. CreatedAt is assigned
// by the database.
func (s *Store) InsertEvent(ctx context.Context, e *Event) (int64, error) {
	terminal := e.Terminal
	if terminal == "" {
		terminal = "{}"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (agent_name, session_id, parent_session_id,
			category, title, message, project_cwd, git_branch, terminal,
			work_summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.AgentName, e.SessionID, e.ParentSessionID,
		e.Category, e.Title, e.Message, e.ProjectCwd, e.GitBranch, terminal,
		e.WorkSummary,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	return res.LastInsertId()
}

// GetEvent returns the event with the given ID, or nil if it does not exist.
func (s *Store) GetEvent(ctx context.Context, eventID int64) (*Event, error) {
	var e Event
	err := s.db.GetContext(ctx, &e, "SELECT * FROM events WHERE id = ?", eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event %d: %w", eventID, err)
	}
	return &e, nil
}

// ListEvents returns events newest-first, optionally filtered.
func (s *Store) ListEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	query := "SELECT * FROM events"
	var clauses []string
	var params []any

	if filter.Agent != "" {
		clauses = append(clauses, "agent_name = ?")
		params = append(params, filter.Agent)
	}
	if filter.Category != "" {
		clauses = append(clauses, "category = ?")
		params = append(params, filter.Category)
	}
	if filter.Project != "" {
		clauses = append(clauses, "project_cwd LIKE ?")
		params = append(params, "%"+filter.Project+"%")
	}
	if filter.Since != "" {
		clauses = append(clauses, "created_at >= ?")
		params = append(params, filter.Since)
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY id DESC LIMIT ?"
	params = append(params, clampLimit(filter.Limit))

	events := []Event{}
	if err := s.db.SelectContext(ctx, &events, query, params...); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// SessionEvents returns a session's events, newest-first.
func (s *Store) SessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	events := []Event{}
	err := s.db.SelectContext(ctx, &events,
		"SELECT * FROM events WHERE session_id = ? ORDER BY id DESC LIMIT ?",
		sessionID, clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list session events: %w", err)
	}
	return events, nil
}
