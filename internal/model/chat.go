package model

import "time"

type Chat struct {
	ID            string    `json:"id"`
	IsGroup       bool      `json:"is_group"`
	GroupName     string    `json:"group_name,omitempty"`
	CreatedBy     string    `json:"created_by"`
	LastMessageID *string   `json:"last_message_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ChatMember struct {
	ChatID   string    `json:"chat_id"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// ChatWithPreview is a chat plus the denormalized bits the chat list needs:
// member profiles and the most recent message.
type ChatWithPreview struct {
	Chat        Chat         `json:"chat"`
	Members     []UserPublic `json:"members"`
	LastMessage *Message     `json:"last_message,omitempty"`
}
