package models

import "time"

// User is the slice of the user profile the chat service reads.
type User struct {
	ID       int        `db:"id" json:"id"`
	Username string     `db:"username" json:"username"`
	Avatar   *string    `db:"avatar" json:"avatar"`
	Online   bool       `db:"is_online" json:"online"`
	LastSeen *time.Time `db:"last_seen" json:"last_seen"`
}

// Block is a directed block edge.
type Block struct {
	BlockerID int       `db:"blocker_id" json:"blocker_id"`
	BlockedID int       `db:"blocked_id" json:"blocked_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
