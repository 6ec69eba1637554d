package models

import "time"

// ChannelChat is the only conversation channel the bot speaks today.
const ChannelChat = "chat"

// ConversationSession is one chat-thread-scoped dialogue with the bot.
// ChannelRef uniquely identifies the thread; reuse returns the same session.
type ConversationSession struct {
	ID            string     `db:"id" json:"id"`
	IncidentID    *string    `db:"incident_id" json:"incident_id,omitempty"`
	Channel       string     `db:"channel" json:"channel"`
	ChannelRef    string     `db:"channel_ref" json:"channel_ref"`
	ParticipantID string     `db:"participant_id" json:"participant_id"`
	StartedAt     time.Time  `db:"started_at" json:"started_at"`
	ClosedAt      *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	Context       JSONMap    `db:"context" json:"context,omitempty"`
}

// ConversationMessage is one message within a session. Listing yields
// non-decreasing timestamps.
type ConversationMessage struct {
	ID        string      `db:"id" json:"id"`
	SessionID string      `db:"session_id" json:"session_id"`
	Role      MessageRole `db:"role" json:"role"`
	Content   string      `db:"content" json:"content"`
	Timestamp time.Time   `db:"timestamp" json:"timestamp"`
	ActionRef *string     `db:"action_ref" json:"action_ref,omitempty"`
}
