package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SetContext writes a shared context variable, replacing any existing value
// for the key within the scope.
func (s *Store) SetContext(ctx context.Context, key, scope, value, updatedBy string) error {
	if scope == "" {
		scope = "global"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO context (key, scope, value, updated_by)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key, scope) DO UPDATE SET
			value = excluded.value,
			updated_by = excluded.updated_by,
			updated_at = `+utcTimestamp,
		key, scope, value, updatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to set context %s/%s: %w", scope, key, err)
	}
	return nil
}

// GetContext returns a context variable, or nil if it does not exist.
func (s *Store) GetContext(ctx context.Context, key, scope string) (*ContextVar, error) {
	if scope == "" {
		scope = "global"
	}
	var cv ContextVar
	err := s.db.GetContext(ctx, &cv,
		"SELECT * FROM context WHERE key = ? AND scope = ?", key, scope)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get context %s/%s: %w", scope, key, err)
	}
	return &cv, nil
}

// ListContext returns context variables, optionally restricted to one scope.
func (s *Store) ListContext(ctx context.Context, scope string) ([]ContextVar, error) {
	vars := []ContextVar{}
	var err error
	if scope != "" {
		err = s.db.SelectContext(ctx, &vars,
			"SELECT * FROM context WHERE scope = ? ORDER BY key", scope)
	} else {
		err = s.db.SelectContext(ctx, &vars,
			"SELECT * FROM context ORDER BY scope, key")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list context: %w", err)
	}
	return vars, nil
}

// DeleteContext removes a context variable. Returns false when it is unknown.
func (s *Store) DeleteContext(ctx context.Context, key, scope string) (bool, error) {
	if scope == "" {
		scope = "global"
	}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM context WHERE key = ? AND scope = ?", key, scope)
	if err != nil {
		return false, fmt.Errorf("failed to delete context %s/%s: %w", scope, key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
