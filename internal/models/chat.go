package models

import "time"

// Chat represents a private chat between exactly two users. User1ID is always
// the smaller id so a pair maps to a single row regardless of order.
type Chat struct {
	ID              int        `db:"id" json:"id"`
	User1ID         int        `db:"user1_id" json:"user1_id"`
	User2ID         int        `db:"user2_id" json:"user2_id"`
	LastMessage     *string    `db:"last_message" json:"last_message,omitempty"`
	LastMessageUser *int       `db:"last_message_user_id" json:"last_message_user_id,omitempty"`
	LastMessageTime *time.Time `db:"last_message_time" json:"last_message_time,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// HasParticipant reports whether userID is one of the two chat members.
func (c Chat) HasParticipant(userID int) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// PartnerOf returns the other participant. The result is meaningless when
// userID is not a participant.
func (c Chat) PartnerOf(userID int) int {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// ChatSummary is a chat list row as seen by one user.
type ChatSummary struct {
	ChatID          int        `db:"chat_id" json:"chat_id"`
	LastMessage     *string    `db:"last_message" json:"last_message"`
	LastMessageUser *int       `db:"last_message_user_id" json:"last_message_user_id"`
	LastMessageTime *time.Time `db:"last_message_time" json:"last_message_time"`
	UnreadCount     int        `db:"unread_count" json:"unread_count"`
	PartnerID       int        `db:"partner_id" json:"partner_id"`
	PartnerUsername string     `db:"partner_username" json:"partner_username"`
	PartnerAvatar   *string    `db:"partner_avatar" json:"partner_avatar"`
	PartnerOnline   bool       `db:"partner_online" json:"partner_online"`
	PartnerLastSeen *time.Time `db:"partner_last_seen" json:"partner_last_seen"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// ChatInfo describes the partner of a chat from the caller's point of view.
type ChatInfo struct {
	ChatID           int  `json:"chat_id"`
	Partner          User `json:"partner"`
	BlockedByMe      bool `json:"blocked_by_me"`
	BlockedByPartner bool `json:"blocked_by_partner"`
}

// ReadCursor is the highest message id a user acknowledged in a chat.
type ReadCursor struct {
	ChatID            int   `db:"chat_id" json:"chat_id"`
	UserID            int   `db:"user_id" json:"user_id"`
	LastReadMessageID int64 `db:"last_read_message_id" json:"last_read_message_id"`
}
