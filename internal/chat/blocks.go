package chat

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"pairchat/internal/repositories"
)

// Block records that blockerID blocks blockedID.
func (s *Service) Block(ctx context.Context, blockerID, blockedID int) error {
	if blockedID <= 0 {
		return validationError("user_id is required")
	}
	if blockerID == blockedID {
		return validationError("cannot block yourself")
	}
	if _, err := s.users.GetUser(ctx, blockedID); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return fmt.Errorf("%w: user %d", ErrNotFound, blockedID)
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if err := s.blocks.Block(ctx, blockerID, blockedID); err != nil {
		if errors.Is(err, repositories.ErrAlreadyBlocked) {
			return fmt.Errorf("%w: user %d already blocked", ErrConflict, blockedID)
		}
		return fmt.Errorf("block user: %w", err)
	}
	s.logger.Info("user blocked", zap.Int("blocker_id", blockerID), zap.Int("blocked_id", blockedID))
	return nil
}

// Unblock removes the edge blockerID -> blockedID.
func (s *Service) Unblock(ctx context.Context, blockerID, blockedID int) error {
	if blockedID <= 0 {
		return validationError("user_id is required")
	}
	if err := s.blocks.Unblock(ctx, blockerID, blockedID); err != nil {
		if errors.Is(err, repositories.ErrBlockNotFound) {
			return fmt.Errorf("%w: user %d is not blocked", ErrNotFound, blockedID)
		}
		return fmt.Errorf("unblock user: %w", err)
	}
	s.logger.Info("user unblocked", zap.Int("blocker_id", blockerID), zap.Int("blocked_id", blockedID))
	return nil
}

// BlockStatus reports whether the chat's participants block each other in
// either direction.
func (s *Service) BlockStatus(ctx context.Context, chatID, userID int) (bool, error) {
	chat, err := s.participantChat(ctx, chatID, userID)
	if err != nil {
		return false, err
	}
	blocked, err := s.blocks.BlockExists(ctx, chat.User1ID, chat.User2ID)
	if err != nil {
		return false, fmt.Errorf("block lookup: %w", err)
	}
	return blocked, nil
}
