package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"pairchat/internal/models"
	"pairchat/internal/repositories"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	maxTextLength   = 4000
	publishTimeout  = 3 * time.Second
)

// RoomBroadcaster pushes chat-scoped events to every connection in a room.
type RoomBroadcaster interface {
	Broadcast(chatID int, event models.Event) int
}

// ConnectionPusher pushes user-scoped events to every live connection of a user.
type ConnectionPusher interface {
	Push(userID int, event models.Event) int
}

// EventPublisher forwards domain events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Dependencies wires the collaborators of Service.
type Dependencies struct {
	Chats       repositories.ChatRepository
	Messages    repositories.MessageRepository
	Unread      repositories.UnreadRepository
	Blocks      repositories.BlockRepository
	Users       repositories.UserRepository
	Rooms       RoomBroadcaster
	Connections ConnectionPusher
	Events      EventPublisher
	Logger      *zap.Logger
	Clock       func() time.Time
}

// Service is the single entry point for chat mutations. The REST handlers and
// the websocket adapter both call it so dedup, block checks and unread
// accounting behave the same on either path.
type Service struct {
	chats       repositories.ChatRepository
	messages    repositories.MessageRepository
	unread      repositories.UnreadRepository
	blocks      repositories.BlockRepository
	users       repositories.UserRepository
	rooms       RoomBroadcaster
	connections ConnectionPusher
	events      EventPublisher
	logger      *zap.Logger
	clock       func() time.Time
	tracer      trace.Tracer
}

// NewService validates the dependencies and constructs a Service.
func NewService(deps Dependencies) (*Service, error) {
	switch {
	case deps.Chats == nil:
		return nil, errors.New("chat service: chat repository required")
	case deps.Messages == nil:
		return nil, errors.New("chat service: message repository required")
	case deps.Unread == nil:
		return nil, errors.New("chat service: unread repository required")
	case deps.Blocks == nil:
		return nil, errors.New("chat service: block repository required")
	case deps.Users == nil:
		return nil, errors.New("chat service: user repository required")
	}

	svc := &Service{
		chats:       deps.Chats,
		messages:    deps.Messages,
		unread:      deps.Unread,
		blocks:      deps.Blocks,
		users:       deps.Users,
		rooms:       deps.Rooms,
		connections: deps.Connections,
		events:      deps.Events,
		logger:      deps.Logger,
		clock:       deps.Clock,
		tracer:      otel.Tracer("pairchat/chat"),
	}
	if svc.rooms == nil {
		svc.rooms = noopFanout{}
	}
	if svc.connections == nil {
		svc.connections = noopFanout{}
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	if svc.clock == nil {
		svc.clock = time.Now
	}
	return svc, nil
}

// SetConnections replaces the per-user pusher. The connection registry and
// the service depend on each other, so the registry is attached after both
// are built and before any traffic is accepted.
func (s *Service) SetConnections(pusher ConnectionPusher) {
	if pusher == nil {
		pusher = noopFanout{}
	}
	s.connections = pusher
}

// FindOrCreateChat returns the chat between userID and partnerID, creating it
// on first contact. The boolean reports whether this call created it.
func (s *Service) FindOrCreateChat(ctx context.Context, userID, partnerID int) (models.Chat, bool, error) {
	if partnerID <= 0 {
		return models.Chat{}, false, validationError("partner_id is required")
	}
	if userID == partnerID {
		return models.Chat{}, false, validationError("cannot start a chat with yourself")
	}
	if _, err := s.users.GetUser(ctx, partnerID); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return models.Chat{}, false, fmt.Errorf("%w: user %d", ErrNotFound, partnerID)
		}
		return models.Chat{}, false, fmt.Errorf("lookup partner: %w", err)
	}

	chat, err := s.chats.FindChatByParticipants(ctx, userID, partnerID)
	if err == nil {
		return chat, false, nil
	}
	if !errors.Is(err, repositories.ErrChatNotFound) {
		return models.Chat{}, false, fmt.Errorf("find chat: %w", err)
	}

	chat, created, err := s.chats.CreateOrGetChat(ctx, userID, partnerID)
	if err != nil {
		return models.Chat{}, false, fmt.Errorf("create chat: %w", err)
	}
	if created {
		s.logger.Info("chat created", zap.Int("chat_id", chat.ID), zap.Int("user_id", userID), zap.Int("partner_id", partnerID))
	}
	return chat, created, nil
}

// ListChats returns the caller's chat list.
func (s *Service) ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error) {
	chats, err := s.chats.ListChats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

// ChatInfo describes the partner of a chat and the block relation between them.
func (s *Service) ChatInfo(ctx context.Context, chatID, userID int) (models.ChatInfo, error) {
	chat, err := s.participantChat(ctx, chatID, userID)
	if err != nil {
		return models.ChatInfo{}, err
	}
	partnerID := chat.PartnerOf(userID)

	partner, err := s.users.GetUser(ctx, partnerID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return models.ChatInfo{}, fmt.Errorf("%w: user %d", ErrNotFound, partnerID)
		}
		return models.ChatInfo{}, fmt.Errorf("lookup partner: %w", err)
	}
	blockedByMe, err := s.blocks.IsBlocking(ctx, userID, partnerID)
	if err != nil {
		return models.ChatInfo{}, fmt.Errorf("block lookup: %w", err)
	}
	blockedByPartner, err := s.blocks.IsBlocking(ctx, partnerID, userID)
	if err != nil {
		return models.ChatInfo{}, fmt.Errorf("block lookup: %w", err)
	}

	return models.ChatInfo{
		ChatID:           chat.ID,
		Partner:          partner,
		BlockedByMe:      blockedByMe,
		BlockedByPartner: blockedByPartner,
	}, nil
}

// DeleteChat removes the chat together with its messages and counters.
func (s *Service) DeleteChat(ctx context.Context, chatID, userID int) error {
	if _, err := s.participantChat(ctx, chatID, userID); err != nil {
		return err
	}
	if err := s.chats.DeleteChat(ctx, chatID); err != nil {
		if errors.Is(err, repositories.ErrChatNotFound) {
			return fmt.Errorf("%w: chat %d", ErrNotFound, chatID)
		}
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}

// EnterChat is called when a connection joins a chat room: the caller's
// unread counter is cleared and the current chat summary is returned.
func (s *Service) EnterChat(ctx context.Context, chatID, userID int) (models.ChatSummaryUpdated, error) {
	chat, err := s.participantChat(ctx, chatID, userID)
	if err != nil {
		return models.ChatSummaryUpdated{}, err
	}
	if err := s.unread.ZeroUnread(ctx, chatID, userID); err != nil {
		return models.ChatSummaryUpdated{}, fmt.Errorf("zero unread: %w", err)
	}
	return summaryOf(chat, 0), nil
}

func (s *Service) participantChat(ctx context.Context, chatID, userID int) (models.Chat, error) {
	if chatID <= 0 {
		return models.Chat{}, validationError("chat_id is required")
	}
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, repositories.ErrChatNotFound) {
			return models.Chat{}, fmt.Errorf("%w: chat %d", ErrNotFound, chatID)
		}
		return models.Chat{}, fmt.Errorf("load chat: %w", err)
	}
	if !chat.HasParticipant(userID) {
		return models.Chat{}, fmt.Errorf("%w: not a participant of chat %d", ErrForbidden, chatID)
	}
	return chat, nil
}

// publish forwards a domain event to the broker. The broker is best effort and
// never fails the calling operation.
func (s *Service) publish(ctx context.Context, eventType string, payload any) {
	if s.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, "chat."+eventType, models.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn("publish domain event", zap.String("event", eventType), zap.Error(err))
	}
}

func summaryOf(chat models.Chat, unread int) models.ChatSummaryUpdated {
	summary := models.ChatSummaryUpdated{ChatID: chat.ID, UnreadCount: unread}
	if chat.LastMessage != nil {
		summary.LastMessage = *chat.LastMessage
	}
	if chat.LastMessageUser != nil {
		summary.SenderID = *chat.LastMessageUser
	}
	if chat.LastMessageTime != nil {
		summary.Timestamp = *chat.LastMessageTime
	}
	return summary
}

type noopFanout struct{}

func (noopFanout) Broadcast(int, models.Event) int { return 0 }

func (noopFanout) Push(int, models.Event) int { return 0 }
