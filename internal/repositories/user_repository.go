package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"pairchat/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository reads profiles and writes the durable presence flag.
type UserRepository interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
	SetPresence(ctx context.Context, userID int, online bool, lastSeen *time.Time) error
	SetAvatar(ctx context.Context, userID int, avatar *string) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUser fetches the profile and presence of a user.
func (r *UserRepo) GetUser(ctx context.Context, userID int) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, username, avatar, is_online, last_seen FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// SetPresence stores the online flag; last_seen is only overwritten when given.
func (r *UserRepo) SetPresence(ctx context.Context, userID int, online bool, lastSeen *time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET is_online=$2, last_seen=COALESCE($3, last_seen) WHERE id=$1`, userID, online, lastSeen)
	return err
}

// SetAvatar replaces the avatar url; nil clears it.
func (r *UserRepo) SetAvatar(ctx context.Context, userID int, avatar *string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET avatar=$2 WHERE id=$1`, userID, avatar)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}
