package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetPreference returns a preference value. The bool result reports whether
// the key exists, distinguishing a missing key from an empty value.
func (s *Store) GetPreference(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value,
		"SELECT value FROM preferences WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get preference %s: %w", key, err)
	}
	return value, true, nil
}

// SetPreference writes a preference, replacing any existing value.
func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set preference %s: %w", key, err)
	}
	return nil
}

// ListPreferences returns all preferences as a key/value map.
func (s *Store) ListPreferences(ctx context.Context) (map[string]string, error) {
	rows := []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}{}
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM preferences ORDER BY key"); err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	prefs := make(map[string]string, len(rows))
	for _, r := range rows {
		prefs[r.Key] = r.Value
	}
	return prefs, nil
}

// DeletePreference removes a preference. Returns false when it is unknown.
func (s *Store) DeletePreference(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM preferences WHERE key = ?", key)
	if err != nil {
		return false, fmt.Errorf("failed to delete preference %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
