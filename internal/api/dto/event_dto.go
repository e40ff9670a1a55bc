package dto

import "encoding/json"

// EventDelivery is the envelope the chat platform posts to the webhook.
type EventDelivery struct {
	DeliveryID string          `json:"delivery_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

// MemberJoinedDelivery payload for member_joined deliveries.
type MemberJoinedDelivery struct {
	UserID      int64  `json:"user_id"`
	CommunityID int64  `json:"community_id"`
	Handle      string `json:"handle"`
}

// MemberLeftDelivery payload for member_left deliveries.
type MemberLeftDelivery struct {
	UserID      int64 `json:"user_id"`
	CommunityID int64 `json:"community_id"`
}

// MessageReceivedDelivery payload for message_received deliveries.
type MessageReceivedDelivery struct {
	AuthorID    int64  `json:"author_id"`
	CommunityID int64  `json:"community_id"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	MessageID   string `json:"message_id"`
	Text        string `json:"text"`
	Handle      string `json:"handle,omitempty"`
}
