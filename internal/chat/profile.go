package chat

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"pairchat/internal/models"
	"pairchat/internal/repositories"
)

const maxAvatarLength = 2048

// UpdateAvatar stores the user's avatar url and relays it to every chat
// partner. An empty url clears the avatar.
func (s *Service) UpdateAvatar(ctx context.Context, userID int, avatar string) error {
	ctx, span := s.tracer.Start(ctx, "chat.UpdateAvatar")
	defer span.End()

	avatar = strings.TrimSpace(avatar)
	var stored *string
	if avatar != "" {
		if len(avatar) > maxAvatarLength {
			return validationError(fmt.Sprintf("avatar exceeds %d bytes", maxAvatarLength))
		}
		parsed, err := url.Parse(avatar)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return validationError("avatar must be an http(s) url")
		}
		stored = &avatar
	}

	if err := s.users.SetAvatar(ctx, userID, stored); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return fmt.Errorf("set avatar: %w", err)
	}

	payload := models.AvatarChanged{UserID: userID, Avatar: stored}
	s.notifyPartners(ctx, userID, models.Event{Type: models.EventAvatarChanged, Payload: payload})
	s.publish(ctx, models.EventAvatarChanged, payload)
	s.logger.Debug("avatar updated", zap.Int("user_id", userID), zap.Bool("cleared", stored == nil))
	return nil
}
