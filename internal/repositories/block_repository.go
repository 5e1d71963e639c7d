package repositories

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
)

var (
	ErrBlockNotFound  = errors.New("block not found")
	ErrAlreadyBlocked = errors.New("user already blocked")
)

// BlockRepository stores directed block edges.
type BlockRepository interface {
	BlockExists(ctx context.Context, userID int, otherID int) (bool, error)
	IsBlocking(ctx context.Context, blockerID int, blockedID int) (bool, error)
	Block(ctx context.Context, blockerID int, blockedID int) error
	Unblock(ctx context.Context, blockerID int, blockedID int) error
}

// BlockRepo is a sqlx implementation of BlockRepository.
type BlockRepo struct {
	db *sqlx.DB
}

// NewBlockRepo constructs a BlockRepo.
func NewBlockRepo(db *sqlx.DB) *BlockRepo {
	return &BlockRepo{db: db}
}

// BlockExists reports a block edge in either direction.
func (r *BlockRepo) BlockExists(ctx context.Context, userID int, otherID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM user_blocks
        WHERE (blocker_id=$1 AND blocked_id=$2) OR (blocker_id=$2 AND blocked_id=$1))`, userID, otherID)
	return exists, err
}

// IsBlocking reports the directed edge blocker -> blocked.
func (r *BlockRepo) IsBlocking(ctx context.Context, blockerID int, blockedID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM user_blocks WHERE blocker_id=$1 AND blocked_id=$2)`, blockerID, blockedID)
	return exists, err
}

// Block inserts the edge, failing with ErrAlreadyBlocked when it exists.
func (r *BlockRepo) Block(ctx context.Context, blockerID int, blockedID int) error {
	res, err := r.db.ExecContext(ctx, `INSERT INTO user_blocks (blocker_id, blocked_id) VALUES ($1, $2)
        ON CONFLICT (blocker_id, blocked_id) DO NOTHING`, blockerID, blockedID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrAlreadyBlocked
	}
	return nil
}

// Unblock removes the edge.
func (r *BlockRepo) Unblock(ctx context.Context, blockerID int, blockedID int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_blocks WHERE blocker_id=$1 AND blocked_id=$2`, blockerID, blockedID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrBlockNotFound
	}
	return nil
}
