package models

import "time"

// Event types pushed to live connections.
const (
	EventMessageDelivered   = "message.delivered"
	EventMessageUpdated     = "message.updated"
	EventMessageDeleted     = "message.deleted"
	EventChatSummaryUpdated = "chat.summaryUpdated"
	EventChatRead           = "chat.read"
	EventPresenceChanged    = "presence.changed"
	EventAvatarChanged      = "partner.avatarUpdated"
	EventAck                = "ack"
)

// Event is the envelope written to websocket clients.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type MessageDelivered struct {
	ChatID    int       `json:"chat_id"`
	MessageID int64     `json:"message_id"`
	ClientID  string    `json:"client_id"`
	SenderID  int       `json:"sender_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type MessageUpdated struct {
	ChatID    int    `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}

type MessageDeleted struct {
	ChatID    int   `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

type ChatSummaryUpdated struct {
	ChatID      int       `json:"chat_id"`
	LastMessage string    `json:"last_message"`
	SenderID    int       `json:"sender_id"`
	Timestamp   time.Time `json:"timestamp"`
	UnreadCount int       `json:"unread_count"`
}

type ChatRead struct {
	ChatID            int   `json:"chat_id"`
	UserID            int   `json:"user_id"`
	LastReadMessageID int64 `json:"last_read_message_id"`
}

type PresenceChanged struct {
	UserID   int        `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type AvatarChanged struct {
	UserID int     `json:"user_id"`
	Avatar *string `json:"avatar"`
}

// Ack answers a live transport command.
type Ack struct {
	Action    string      `json:"action"`
	RequestID string      `json:"request_id,omitempty"`
	Status    string      `json:"status"`
	Reason    string      `json:"reason,omitempty"`
	ChatID    int         `json:"chat_id,omitempty"`
	MessageID int64       `json:"message_id,omitempty"`
	Unread    map[int]int `json:"unread,omitempty"`
}
