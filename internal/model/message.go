package model

import "time"

type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
	ContentTypeVideo ContentType = "video"
	ContentTypeFile  ContentType = "file"
)

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// statusRank orders the message lifecycle. Transitions only move to a higher
// rank; everything else is an idempotent no-op.
var statusRank = map[MessageStatus]int{
	MessageStatusSent:      1,
	MessageStatusDelivered: 2,
	MessageStatusRead:      3,
}

// StatusAdvances reports whether moving from cur to next is a forward
// transition of the sent -> delivered -> read state machine.
func StatusAdvances(cur, next MessageStatus) bool {
	return statusRank[next] > statusRank[cur]
}

type Message struct {
	ID          string        `json:"id"`
	ChatID      string        `json:"chat_id"`
	SenderID    string        `json:"sender_id"`
	Content     string        `json:"content"`
	ContentType ContentType   `json:"content_type"`
	Status      MessageStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`

	// Denormalized for the receiving client (no extra round trip).
	Sender *UserPublic `json:"sender,omitempty"`

	Reactions []Reaction `json:"reactions,omitempty"`
	SeenBy    []string   `json:"seen_by,omitempty"`
}

type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}
