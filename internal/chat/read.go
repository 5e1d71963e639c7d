package chat

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"pairchat/internal/models"
	"pairchat/internal/repositories"
)

// MarkReadRequest acknowledges a chat. LastReadMessageID is optional; when
// nil the newest message of the chat is the target.
type MarkReadRequest struct {
	ChatID            int
	UserID            int
	LastReadMessageID *int64
}

// ReadResult reports the caller's cursor after MarkRead. Advanced is set when
// the cursor moved and the partner was notified.
type ReadResult struct {
	ChatID            int   `json:"chat_id"`
	LastReadMessageID int64 `json:"last_read_message_id"`
	Advanced          bool  `json:"advanced"`
}

// MarkRead zeroes the caller's unread counter and moves the read cursor
// forward to the target message when it was authored by the partner. The
// cursor never regresses and repeated calls do not notify twice.
func (s *Service) MarkRead(ctx context.Context, req MarkReadRequest) (ReadResult, error) {
	ctx, span := s.tracer.Start(ctx, "chat.MarkRead")
	defer span.End()
	span.SetAttributes(attribute.Int("chat.id", req.ChatID))

	chat, err := s.participantChat(ctx, req.ChatID, req.UserID)
	if err != nil {
		return ReadResult{}, err
	}
	target, ok, err := s.readTarget(ctx, chat.ID, req.LastReadMessageID)
	if err != nil {
		return ReadResult{}, err
	}
	if err := s.unread.ZeroUnread(ctx, chat.ID, req.UserID); err != nil {
		return ReadResult{}, fmt.Errorf("zero unread: %w", err)
	}

	cursor, err := s.unread.ReadCursor(ctx, chat.ID, req.UserID)
	if err != nil {
		return ReadResult{}, fmt.Errorf("read cursor: %w", err)
	}
	result := ReadResult{ChatID: chat.ID, LastReadMessageID: cursor}
	if !ok || target.SenderID == req.UserID || cursor >= target.ID {
		return result, nil
	}

	stored, err := s.unread.UpsertReadCursorMax(ctx, chat.ID, req.UserID, target.ID)
	if err != nil {
		return ReadResult{}, fmt.Errorf("merge read cursor: %w", err)
	}
	result.LastReadMessageID = stored
	if stored <= cursor {
		// A concurrent reader already moved the cursor past the target.
		return result, nil
	}
	result.Advanced = true

	payload := models.ChatRead{ChatID: chat.ID, UserID: req.UserID, LastReadMessageID: stored}
	s.connections.Push(chat.PartnerOf(req.UserID), models.Event{Type: models.EventChatRead, Payload: payload})
	s.publish(ctx, models.EventChatRead, payload)
	s.logger.Debug("read cursor advanced", zap.Int("chat_id", chat.ID), zap.Int("user_id", req.UserID), zap.Int64("cursor", stored))
	return result, nil
}

func (s *Service) readTarget(ctx context.Context, chatID int, explicit *int64) (models.Message, bool, error) {
	if explicit != nil {
		if *explicit <= 0 {
			return models.Message{}, false, validationError("last_read_message_id must be positive")
		}
		msg, err := s.messages.GetMessage(ctx, *explicit)
		if errors.Is(err, repositories.ErrMessageNotFound) || (err == nil && msg.ChatID != chatID) {
			return models.Message{}, false, fmt.Errorf("%w: message %d", ErrNotFound, *explicit)
		}
		if err != nil {
			return models.Message{}, false, fmt.Errorf("load message: %w", err)
		}
		return msg, true, nil
	}

	msg, err := s.messages.LatestMessage(ctx, chatID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, false, nil
	}
	if err != nil {
		return models.Message{}, false, fmt.Errorf("latest message: %w", err)
	}
	return msg, true, nil
}

// UnreadCounts maps chat id to the caller's unread count.
func (s *Service) UnreadCounts(ctx context.Context, userID int) (map[int]int, error) {
	counts, err := s.unread.UnreadCounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	return counts, nil
}
