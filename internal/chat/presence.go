package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pairchat/internal/models"
	"pairchat/internal/observability"
)

// UserOnline persists the online flag and tells every chat partner. It is
// called by the connection registry on the first connection of a user.
func (s *Service) UserOnline(ctx context.Context, userID int) {
	observability.IncPresenceTransition("online")
	if err := s.users.SetPresence(ctx, userID, true, nil); err != nil {
		s.logger.Warn("persist presence", zap.Int("user_id", userID), zap.Bool("online", true), zap.Error(err))
	}
	s.notifyPartners(ctx, userID, models.Event{Type: models.EventPresenceChanged, Payload: models.PresenceChanged{UserID: userID, Online: true}})
}

// UserOffline persists the offline flag with lastSeen once the grace period
// expired without a reconnect.
func (s *Service) UserOffline(ctx context.Context, userID int, lastSeen time.Time) {
	observability.IncPresenceTransition("offline")
	if err := s.users.SetPresence(ctx, userID, false, &lastSeen); err != nil {
		s.logger.Warn("persist presence", zap.Int("user_id", userID), zap.Bool("online", false), zap.Error(err))
	}
	s.notifyPartners(ctx, userID, models.Event{
		Type:    models.EventPresenceChanged,
		Payload: models.PresenceChanged{UserID: userID, Online: false, LastSeen: &lastSeen},
	})
}

// notifyPartners pushes event to the live connections of everyone userID
// shares a chat with.
func (s *Service) notifyPartners(ctx context.Context, userID int, event models.Event) {
	partners, err := s.chats.PartnerIDs(ctx, userID)
	if err != nil {
		s.logger.Warn("list chat partners", zap.Int("user_id", userID), zap.Error(err))
		return
	}
	for _, partnerID := range partners {
		s.connections.Push(partnerID, event)
	}
}
