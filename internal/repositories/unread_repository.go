package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// UnreadRepository keeps per-user unread counters and read cursors. Every
// mutation is a single statement so concurrent senders and readers stay
// correct; the increment lives in MessageRepo.AppendMessage.
//
// Zeroing a counter records the newest message id of the chat as the seen
// watermark. Only messages above the watermark are still counted, so a
// deletion at or below it leaves the counter alone.
type UnreadRepository interface {
	DecrementUnread(ctx context.Context, chatID int, userID int, messageID int64) (int, error)
	ZeroUnread(ctx context.Context, chatID int, userID int) error
	UnreadCount(ctx context.Context, chatID int, userID int) (int, error)
	UnreadCounts(ctx context.Context, userID int) (map[int]int, error)
	ReadCursor(ctx context.Context, chatID int, userID int) (int64, error)
	UpsertReadCursorMax(ctx context.Context, chatID int, userID int, messageID int64) (int64, error)
}

// UnreadRepo is a sqlx implementation of UnreadRepository.
type UnreadRepo struct {
	db *sqlx.DB
}

// NewUnreadRepo constructs an UnreadRepo.
func NewUnreadRepo(db *sqlx.DB) *UnreadRepo {
	return &UnreadRepo{db: db}
}

// DecrementUnread uncounts a deleted message without going below zero. A
// message at or below the seen watermark was never counted and changes
// nothing; the current counter is returned either way.
func (r *UnreadRepo) DecrementUnread(ctx context.Context, chatID int, userID int, messageID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `UPDATE chat_unread SET unread_count = GREATEST(unread_count - 1, 0)
        WHERE chat_id=$1 AND user_id=$2 AND seen_message_id < $3 RETURNING unread_count`, chatID, userID, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return r.UnreadCount(ctx, chatID, userID)
	}
	return count, err
}

// ZeroUnread resets the counter and raises the seen watermark to the newest
// message of the chat.
func (r *UnreadRepo) ZeroUnread(ctx context.Context, chatID int, userID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO chat_unread (chat_id, user_id, unread_count, seen_message_id)
        VALUES ($1, $2, 0, (SELECT COALESCE(MAX(id), 0) FROM messages WHERE chat_id=$1))
        ON CONFLICT (chat_id, user_id) DO UPDATE
            SET unread_count = 0, seen_message_id = GREATEST(chat_unread.seen_message_id, EXCLUDED.seen_message_id)`, chatID, userID)
	return err
}

// UnreadCount returns the counter, zero when no row exists.
func (r *UnreadRepo) UnreadCount(ctx context.Context, chatID int, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT unread_count FROM chat_unread WHERE chat_id=$1 AND user_id=$2`, chatID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

// UnreadCounts maps chat id to unread count for every chat of the user.
func (r *UnreadRepo) UnreadCounts(ctx context.Context, userID int) (map[int]int, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT chat_id, unread_count FROM chat_unread WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[int]int{}
	for rows.Next() {
		var chatID, count int
		if err := rows.Scan(&chatID, &count); err != nil {
			return nil, err
		}
		counts[chatID] = count
	}
	return counts, rows.Err()
}

// ReadCursor returns the user's read cursor, zero when nothing was read yet.
func (r *UnreadRepo) ReadCursor(ctx context.Context, chatID int, userID int) (int64, error) {
	var cursor int64
	err := r.db.GetContext(ctx, &cursor, `SELECT last_read_message_id FROM chat_reads WHERE chat_id=$1 AND user_id=$2`, chatID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return cursor, err
}

// UpsertReadCursorMax merges messageID into the cursor with a max and returns
// the stored value. The cursor never moves backwards.
func (r *UnreadRepo) UpsertReadCursorMax(ctx context.Context, chatID int, userID int, messageID int64) (int64, error) {
	var cursor int64
	err := r.db.GetContext(ctx, &cursor, `INSERT INTO chat_reads (chat_id, user_id, last_read_message_id) VALUES ($1, $2, $3)
        ON CONFLICT (chat_id, user_id) DO UPDATE
            SET last_read_message_id = GREATEST(chat_reads.last_read_message_id, EXCLUDED.last_read_message_id)
        RETURNING last_read_message_id`, chatID, userID, messageID)
	return cursor, err
}
