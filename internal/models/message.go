package models

import "time"

// Message represents a chat message. ID is the server log id, ClientID the
// client supplied idempotency id.
type Message struct {
	ID        int64      `db:"id" json:"id"`
	ChatID    int        `db:"chat_id" json:"chat_id"`
	SenderID  int        `db:"sender_id" json:"sender_id"`
	ClientID  string     `db:"client_id" json:"client_id"`
	Text      string     `db:"text" json:"text"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
