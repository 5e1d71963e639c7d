package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"pairchat/internal/models"
)

var ErrChatNotFound = errors.New("chat not found")

// ChatRepository abstracts chat persistence.
type ChatRepository interface {
	FindChatByParticipants(ctx context.Context, userID int, partnerID int) (models.Chat, error)
	CreateOrGetChat(ctx context.Context, userID int, partnerID int) (models.Chat, bool, error)
	GetChat(ctx context.Context, chatID int) (models.Chat, error)
	ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error)
	PartnerIDs(ctx context.Context, userID int) ([]int, error)
	RefreshLastMessage(ctx context.Context, chatID int) error
	DeleteChat(ctx context.Context, chatID int) error
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

const chatColumns = `id, user1_id, user2_id, last_message, last_message_user_id, last_message_time, created_at`

// OrderedPair returns the pair with the smaller id first, matching the
// (user1_id, user2_id) uniqueness key.
func OrderedPair(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}

// FindChatByParticipants looks a chat up by its unordered pair.
func (r *ChatRepo) FindChatByParticipants(ctx context.Context, userID int, partnerID int) (models.Chat, error) {
	user1, user2 := OrderedPair(userID, partnerID)
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats WHERE user1_id=$1 AND user2_id=$2`, user1, user2)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// CreateOrGetChat creates a chat between two users if it does not already
// exist. The unique pair constraint settles concurrent creators; the boolean
// reports whether this call inserted the row.
func (r *ChatRepo) CreateOrGetChat(ctx context.Context, userID int, partnerID int) (models.Chat, bool, error) {
	if userID == partnerID {
		return models.Chat{}, false, errors.New("cannot create chat with self")
	}
	user1, user2 := OrderedPair(userID, partnerID)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, false, err
	}
	defer tx.Rollback()

	var chat models.Chat
	err = tx.GetContext(ctx, &chat, `INSERT INTO chats (user1_id, user2_id) VALUES ($1, $2)
        ON CONFLICT (user1_id, user2_id) DO NOTHING
        RETURNING `+chatColumns, user1, user2)
	if errors.Is(err, sql.ErrNoRows) {
		if err := tx.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats WHERE user1_id=$1 AND user2_id=$2`, user1, user2); err != nil {
			return models.Chat{}, false, err
		}
		return chat, false, tx.Commit()
	}
	if err != nil {
		return models.Chat{}, false, err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO chat_unread (chat_id, user_id, unread_count) VALUES ($1, $2, 0), ($1, $3, 0)
        ON CONFLICT (chat_id, user_id) DO NOTHING`, chat.ID, user1, user2); err != nil {
		return models.Chat{}, false, err
	}
	return chat, true, tx.Commit()
}

// GetChat fetches a chat by id.
func (r *ChatRepo) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// ListChats returns the user's chats with partner profile and unread count,
// most recently active first.
func (r *ChatRepo) ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error) {
	query := `SELECT c.id AS chat_id, c.last_message, c.last_message_user_id, c.last_message_time, c.created_at,
            COALESCE(cu.unread_count, 0) AS unread_count,
            u.id AS partner_id, u.username AS partner_username, u.avatar AS partner_avatar,
            u.is_online AS partner_online, u.last_seen AS partner_last_seen
        FROM chats c
        LEFT JOIN chat_unread cu ON cu.chat_id = c.id AND cu.user_id = $1
        JOIN users u ON u.id = CASE WHEN c.user1_id = $1 THEN c.user2_id ELSE c.user1_id END
        WHERE c.user1_id = $1 OR c.user2_id = $1
        ORDER BY COALESCE(c.last_message_time, c.created_at) DESC`
	result := []models.ChatSummary{}
	if err := r.db.SelectContext(ctx, &result, query, userID); err != nil {
		return nil, err
	}
	return result, nil
}

// PartnerIDs lists every user sharing a chat with userID.
func (r *ChatRepo) PartnerIDs(ctx context.Context, userID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `SELECT CASE WHEN user1_id = $1 THEN user2_id ELSE user1_id END
        FROM chats WHERE user1_id = $1 OR user2_id = $1`, userID)
	return ids, err
}

// RefreshLastMessage recomputes the denormalized summary from the newest
// remaining message, clearing it when the chat is empty.
func (r *ChatRepo) RefreshLastMessage(ctx context.Context, chatID int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chats c SET
            last_message = m.text, last_message_user_id = m.sender_id, last_message_time = m.created_at,
            last_message_id = m.id
        FROM (SELECT $1::INT AS chat_id) target
        LEFT JOIN LATERAL (
            SELECT id, text, sender_id, created_at FROM messages WHERE chat_id = target.chat_id ORDER BY id DESC LIMIT 1
        ) m ON TRUE
        WHERE c.id = target.chat_id`, chatID)
	return err
}

// DeleteChat removes the chat; messages, unread counters and read cursors cascade.
func (r *ChatRepo) DeleteChat(ctx context.Context, chatID int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chats WHERE id=$1`, chatID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrChatNotFound
	}
	return nil
}
