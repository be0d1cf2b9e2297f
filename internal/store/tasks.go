package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Task statuses and priorities.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
	TaskBlocked    = "blocked"

	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// TaskUpdate carries partial task updates; nil fields are left unchanged.
type TaskUpdate struct {
	Title        *string
	Description  *string
	Status       *string
	Priority     *string
	SessionID    *string
	Dependencies *[]int64
}

// InsertTask stores a task and returns its row ID.
func (s *Store) InsertTask(ctx context.Context, t *Task) (int64, error) {
	status := t.Status
	if status == "" {
		status = TaskPending
	}
	priority := t.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (session_id, title, description, status, priority, dependencies)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.Title, t.Description, status, priority,
		encodeDependencies(t.Dependencies),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert task: %w", err)
	}
	return res.LastInsertId()
}

// GetTask returns the task with the given ID, or nil if it does not exist.
func (s *Store) GetTask(ctx context.Context, taskID int64) (*Task, error) {
	var t Task
	err := s.db.GetContext(ctx, &t, "SELECT * FROM tasks WHERE id = ?", taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %d: %w", taskID, err)
	}
	t.decodeDependencies()
	return &t, nil
}

// ListTasks returns tasks ordered by priority (high, medium, low) then by ID,
// optionally filtered by session and status.
func (s *Store) ListTasks(ctx context.Context, sessionID, status string, limit int) ([]Task, error) {
	var clauses []string
	var params []any
	if sessionID != "" {
		clauses = append(clauses, "session_id = ?")
		params = append(params, sessionID)
	}
	if status != "" {
		clauses = append(clauses, "status = ?")
		params = append(params, status)
	}
	query := "SELECT * FROM tasks"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY priority = 'high' DESC, priority = 'medium' DESC, id ASC LIMIT ?"
	params = append(params, clampLimit(limit))

	tasks := []Task{}
	if err := s.db.SelectContext(ctx, &tasks, query, params...); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	for i := range tasks {
		tasks[i].decodeDependencies()
	}
	return tasks, nil
}

// UpdateTask applies a partial update. Returns false when the task is unknown.
func (s *Store) UpdateTask(ctx context.Context, taskID int64, update TaskUpdate) (bool, error) {
	sets := []string{"updated_at = " + utcTimestamp}
	var params []any
	if update.Title != nil {
		sets = append(sets, "title = ?")
		params = append(params, *update.Title)
	}
	if update.Description != nil {
		sets = append(sets, "description = ?")
		params = append(params, *update.Description)
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		params = append(params, *update.Status)
	}
	if update.Priority != nil {
		sets = append(sets, "priority = ?")
		params = append(params, *update.Priority)
	}
	if update.SessionID != nil {
		sets = append(sets, "session_id = ?")
		params = append(params, *update.SessionID)
	}
	if update.Dependencies != nil {
		sets = append(sets, "dependencies = ?")
		params = append(params, encodeDependencies(*update.Dependencies))
	}
	params = append(params, taskID)

	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ?", params...)
	if err != nil {
		return false, fmt.Errorf("failed to update task %d: %w", taskID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DeleteTask removes a task. Returns false when the task is unknown.
func (s *Store) DeleteTask(ctx context.Context, taskID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", taskID)
	if err != nil {
		return false, fmt.Errorf("failed to delete task %d: %w", taskID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// NextTask finds the next actionable task: pending, with every dependency in
// done status. Dependencies resolve against all tasks regardless of session,
// while candidates can be narrowed to one session. Returns nil when nothing
// is actionable.
func (s *Store) NextTask(ctx context.Context, sessionID string) (*Task, error) {
	all, err := s.ListTasks(ctx, "", "", 1000)
	if err != nil {
		return nil, err
	}
	doneIDs := make(map[int64]bool, len(all))
	for _, t := range all {
		if t.Status == TaskDone {
			doneIDs[t.ID] = true
		}
	}

	candidates, err := s.ListTasks(ctx, sessionID, "", 500)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		t := &candidates[i]
		if t.Status != TaskPending {
			continue
		}
		ready := true
		for _, dep := range t.Dependencies {
			if !doneIDs[dep] {
				ready = false
				break
			}
		}
		if ready {
			return t, nil
		}
	}
	return nil, nil
}
