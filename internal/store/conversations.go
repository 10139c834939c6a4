// ABOUTME: Persistent user id to conversation handle mapping on SQLite
// ABOUTME: Insert-if-absent so concurrent writers converge on a single handle

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// LookupConversation returns the stored handle for userID, if any.
func (s *SQLiteStore) LookupConversation(ctx context.Context, userID string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id FROM conversations WHERE user_id = ?`, userID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying conversation: %w", err)
	}
	return id, true, nil
}

// SaveConversation stores the handle unless the user already has one, then
// returns the stored handle.
func (s *SQLiteStore) SaveConversation(ctx context.Context, userID, conversationID string) (string, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (user_id, conversation_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, conversationID, formatTime(s.now()))
	if err != nil {
		return "", fmt.Errorf("inserting conversation: %w", err)
	}

	stored, ok, err := s.LookupConversation(ctx, userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("conversation for %q vanished after insert", userID)
	}
	if stored != conversationID {
		s.logger.Debug("kept existing conversation", "user_id", userID, "conversation_id", stored)
	}
	return stored, nil
}
