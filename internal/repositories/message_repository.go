package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"pairchat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	AppendMessage(ctx context.Context, msg NewMessage) (AppendResult, error)
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
	GetMessageByClientID(ctx context.Context, clientID string) (models.Message, error)
	ListMessages(ctx context.Context, chatID int, limit int, beforeID int64) ([]models.Message, error)
	LatestMessage(ctx context.Context, chatID int) (models.Message, error)
	UpdateText(ctx context.Context, messageID int64, text string) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID int64) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, chat_id, sender_id, client_id, text, created_at, updated_at`

// NewMessage is a message about to be appended to a chat log.
type NewMessage struct {
	ChatID      int
	SenderID    int
	RecipientID int
	Text        string
	ClientID    string
}

// AppendResult reports what AppendMessage stored.
type AppendResult struct {
	Message         models.Message
	RecipientUnread int
	Inserted        bool
}

// AppendMessage inserts the message, refreshes the chat summary and bumps the
// recipient's unread counter in one transaction. The unique client_id column
// makes the insert idempotent: when the id is already taken nothing else is
// touched and the stored message is returned with Inserted=false.
func (r *MessageRepo) AppendMessage(ctx context.Context, in NewMessage) (AppendResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return AppendResult{}, err
	}
	defer tx.Rollback()

	var msg models.Message
	err = tx.GetContext(ctx, &msg, `INSERT INTO messages (chat_id, sender_id, client_id, text) VALUES ($1, $2, $3, $4)
        ON CONFLICT (client_id) DO NOTHING
        RETURNING `+messageColumns, in.ChatID, in.SenderID, in.ClientID, in.Text)
	if errors.Is(err, sql.ErrNoRows) {
		if err := tx.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE client_id=$1`, in.ClientID); err != nil {
			return AppendResult{}, err
		}
		return AppendResult{Message: msg}, tx.Commit()
	}
	if err != nil {
		return AppendResult{}, err
	}

	// Concurrent appends may commit out of log order; the summary only moves forward.
	if _, err := tx.ExecContext(ctx, `UPDATE chats
        SET last_message=$2, last_message_user_id=$3, last_message_time=$4, last_message_id=$5
        WHERE id=$1 AND (last_message_id IS NULL OR last_message_id < $5)`,
		in.ChatID, msg.Text, msg.SenderID, msg.CreatedAt, msg.ID); err != nil {
		return AppendResult{}, err
	}

	var unread int
	if err := tx.GetContext(ctx, &unread, `INSERT INTO chat_unread (chat_id, user_id, unread_count) VALUES ($1, $2, 1)
        ON CONFLICT (chat_id, user_id) DO UPDATE SET unread_count = chat_unread.unread_count + 1
        RETURNING unread_count`, in.ChatID, in.RecipientID); err != nil {
		return AppendResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return AppendResult{}, err
	}
	return AppendResult{Message: msg, RecipientUnread: unread, Inserted: true}, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// GetMessageByClientID retrieves a message by its idempotency id.
func (r *MessageRepo) GetMessageByClientID(ctx context.Context, clientID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE client_id=$1`, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListMessages returns up to limit messages older than beforeID (all when
// beforeID is zero), oldest first.
func (r *MessageRepo) ListMessages(ctx context.Context, chatID int, limit int, beforeID int64) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM (
            SELECT ` + messageColumns + ` FROM messages
            WHERE chat_id=$1 AND ($2 = 0 OR id < $2)
            ORDER BY id DESC
            LIMIT $3
        ) page ORDER BY id ASC`
	msgs := []models.Message{}
	if err := r.db.SelectContext(ctx, &msgs, query, chatID, beforeID, limit); err != nil {
		return nil, err
	}
	return msgs, nil
}

// LatestMessage returns the newest message of a chat.
func (r *MessageRepo) LatestMessage(ctx context.Context, chatID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE chat_id=$1 ORDER BY id DESC LIMIT 1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// UpdateText overwrites the message text in place.
func (r *MessageRepo) UpdateText(ctx context.Context, messageID int64, text string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `UPDATE messages SET text=$2, updated_at=NOW() WHERE id=$1 RETURNING `+messageColumns, messageID, text)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// DeleteMessage removes a message from the log.
func (r *MessageRepo) DeleteMessage(ctx context.Context, messageID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}
