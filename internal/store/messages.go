package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Message statuses.
const (
	MessagePending   = "pending"
	MessageDelivered = "delivered"
	MessageRejected  = "rejected"
)

// InsertMessage queues a mesh message and returns its row ID.
func (s *Store) InsertMessage(ctx context.Context, m *Message) (int64, error) {
	messageType := m.MessageType
	if messageType == "" {
		messageType = "handoff"
	}
	status := m.Status
	if status == "" {
		status = MessagePending
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (from_session, to_session, message_type, content, status)
		VALUES (?, ?, ?, ?, ?)`,
		m.FromSession, m.ToSession, messageType, m.Content, status,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	return res.LastInsertId()
}

// GetMessage returns the message with the given ID, or nil if it does not exist.
func (s *Store) GetMessage(ctx context.Context, messageID int64) (*Message, error) {
	var m Message
	err := s.db.GetContext(ctx, &m, "SELECT * FROM messages WHERE id = ?", messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message %d: %w", messageID, err)
	}
	return &m, nil
}

// ListMessages returns messages newest-first, optionally filtered by status.
func (s *Store) ListMessages(ctx context.Context, status string, limit int) ([]Message, error) {
	messages := []Message{}
	var err error
	if status != "" {
		err = s.db.SelectContext(ctx, &messages,
			"SELECT * FROM messages WHERE status = ? ORDER BY id DESC LIMIT ?",
			status, clampLimit(limit))
	} else {
		err = s.db.SelectContext(ctx, &messages,
			"SELECT * FROM messages ORDER BY id DESC LIMIT ?", clampLimit(limit))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// UpdateMessageStatus transitions a message's status, optionally stamping
// delivered_at. Returns false when the message is unknown.
func (s *Store) UpdateMessageStatus(ctx context.Context, messageID int64, status, deliveredAt string) (bool, error) {
	var res sql.Result
	var err error
	if deliveredAt != "" {
		res, err = s.db.ExecContext(ctx,
			"UPDATE messages SET status = ?, delivered_at = ? WHERE id = ?",
			status, deliveredAt, messageID)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE messages SET status = ? WHERE id = ?", status, messageID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to update message %d: %w", messageID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
