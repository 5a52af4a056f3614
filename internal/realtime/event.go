package realtime

import "github.com/dmchat/internal/model"

type EventType string

const (
	// client -> server
	EventOnline      EventType = "online"
	EventTyping      EventType = "typing"
	EventSendMessage EventType = "send-message"
	EventDelivered   EventType = "message-delivered"
	EventRead        EventType = "message-read"

	// server -> client
	EventReceiveMessage EventType = "receive-message"
	EventError          EventType = "error"
	// online, typing, message-delivered and message-read are reused downstream.
)

// IncomingEvent is what a connection sends to the hub.
type IncomingEvent struct {
	Type EventType `json:"type"`

	// online: optional echo of the announcing user's id.
	UserID string `json:"user_id,omitempty"`

	// typing / send-message
	ChatID      string            `json:"chat_id,omitempty"`
	Content     string            `json:"content,omitempty"`
	ContentType model.ContentType `json:"content_type,omitempty"`

	// message-delivered / message-read
	MessageID string `json:"message_id,omitempty"`
}

// OutgoingEvent is what the hub sends to a connection. Payload uses typed
// structs to avoid map[string]any allocations on the fanout path.
type OutgoingEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// TypingPayload is forwarded verbatim to the other connected chat members.
// Nothing is retained server-side; the receiving client owns the timeout.
type TypingPayload struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}

// StatusPayload notifies the sender's connections of a delivery/read receipt.
type StatusPayload struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
}
