package events

import (
	"time"

	"github.com/spec-kit/membership-bot/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventMemberJoined         EventType = "member_joined"
	EventMemberLeft           EventType = "member_left"
	EventMessageReceived      EventType = "message_received"
	EventVerificationAccepted EventType = "verification_accepted"
	EventVerificationRejected EventType = "verification_rejected"
	EventSessionAbandoned     EventType = "session_abandoned"
	EventPersistFailed        EventType = "persist_failed"
)

// Event represents a platform or domain event routed by the dispatcher.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// MemberJoinedPayload payload.
type MemberJoinedPayload struct {
	UserID      domain.UserID      `json:"user_id"`
	CommunityID domain.CommunityID `json:"community_id"`
	Handle      string             `json:"handle"`
}

// MemberLeftPayload payload.
type MemberLeftPayload struct {
	UserID      domain.UserID      `json:"user_id"`
	CommunityID domain.CommunityID `json:"community_id"`
}

// MessageReceivedPayload payload.
type MessageReceivedPayload struct {
	AuthorID    domain.UserID      `json:"author_id"`
	CommunityID domain.CommunityID `json:"community_id"`
	ChannelID   string             `json:"channel_id"`
	ChannelName string             `json:"channel_name"`
	MessageID   string             `json:"message_id"`
	Text        string             `json:"text"`
	Handle      string             `json:"handle,omitempty"`
}

// VerificationResultPayload payload for accepted/rejected events.
type VerificationResultPayload struct {
	UserID         domain.UserID      `json:"user_id"`
	CommunityID    domain.CommunityID `json:"community_id"`
	RegistrationID string             `json:"registration_id,omitempty"`
	Reason         string             `json:"reason,omitempty"`
}

// SessionAbandonedPayload payload.
type SessionAbandonedPayload struct {
	UserID      domain.UserID      `json:"user_id"`
	CommunityID domain.CommunityID `json:"community_id"`
	Reason      string             `json:"reason"`
}

// PersistFailedPayload payload emitted when registry persistence retries
// are exhausted and memory has diverged from the remote store.
type PersistFailedPayload struct {
	Path     string `json:"path"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}
