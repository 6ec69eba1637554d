package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/railwatch/railwatch/pkg/database"
	"github.com/railwatch/railwatch/pkg/models"
)

// ConversationStore persists chat sessions and their messages. A session
// is unique per (channel, channel_ref); messages cascade with it.
type ConversationStore struct {
	db     *database.Client
	logger *slog.Logger
}

const sessionColumns = `id, incident_id, channel, channel_ref, participant_id,
started_at, closed_at, context`

const messageColumns = `id, session_id, role, content, timestamp, action_ref`

// NewConversationStore creates a conversation store.
func NewConversationStore(db *database.Client) *ConversationStore {
	return &ConversationStore{
		db:     db,
		logger: slog.Default().With("component", "conversation-store"),
	}
}

// FindSession returns the session for a thread, or ErrNotFound.
func (s *ConversationStore) FindSession(ctx context.Context, channel, channelRef string) (*models.ConversationSession, error) {
	var sess models.ConversationSession
	err := s.db.GetContext(ctx, &sess,
		`SELECT `+sessionColumns+` FROM conversation_sessions
		 WHERE channel = $1 AND channel_ref = $2`, channel, channelRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &sess, nil
}

// FindOrCreateSession returns the thread's session, creating it on first
// use. The created flag tells the caller to seed the opening message.
func (s *ConversationStore) FindOrCreateSession(ctx context.Context, channel, channelRef, participantID string, incidentID *string) (*models.ConversationSession, bool, error) {
	sess, err := s.FindSession(ctx, channel, channelRef)
	if err == nil {
		return sess, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	sess = &models.ConversationSession{
		ID:            uuid.New().String(),
		IncidentID:    incidentID,
		Channel:       channel,
		ChannelRef:    channelRef,
		ParticipantID: participantID,
		StartedAt:     time.Now().UTC(),
		Context:       models.JSONMap{},
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID, sess.IncidentID, sess.Channel, sess.ChannelRef,
		sess.ParticipantID, sess.StartedAt, nil, sess.Context)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race; the winner's row is the session.
			sess, err = s.FindSession(ctx, channel, channelRef)
			return sess, false, err
		}
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	return sess, true, nil
}

// AppendMessage adds a message to a session.
func (s *ConversationStore) AppendMessage(ctx context.Context, m *models.ConversationMessage) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_messages (`+messageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.SessionID, m.Role, m.Content, m.Timestamp, m.ActionRef)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListMessages returns a session's messages in timestamp order.
func (s *ConversationStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]models.ConversationMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var msgs []models.ConversationMessage
	err := s.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM conversation_messages
		 WHERE session_id = $1 ORDER BY timestamp LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// CloseSession stamps closed_at once; closing a closed session is a no-op.
func (s *ConversationStore) CloseSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversation_sessions SET closed_at = $1
		 WHERE id = $2 AND closed_at IS NULL`,
		time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// CloseIdleSessions closes open sessions with no message newer than the
// cutoff. Returns the number of sessions closed.
func (s *ConversationStore) CloseIdleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversation_sessions SET closed_at = $1
		 WHERE closed_at IS NULL
		   AND COALESCE(
		       (SELECT max(timestamp) FROM conversation_messages
		        WHERE session_id = conversation_sessions.id),
		       started_at) < $2`,
		time.Now().UTC(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("close idle sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteOlderThan removes sessions started before the cutoff. Messages
// cascade with their session.
func (s *ConversationStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_sessions WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
