package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"pairchat/internal/models"
	"pairchat/internal/observability"
	"pairchat/internal/repositories"
)

// Message sources, used as a metric label.
const (
	SourceHTTP = "http"
	SourceWS   = "ws"
)

// SubmitRequest is an inbound message from either transport.
type SubmitRequest struct {
	ChatID        int
	SenderID      int
	Text          string
	IdempotencyID string
	Source        string
}

// SubmitResult is the stored message. Duplicate is set when the idempotency
// id was already used and nothing was written.
type SubmitResult struct {
	Message   models.Message
	Duplicate bool
}

// SubmitMessage runs the delivery pipeline: dedup, chat resolution,
// participant and block checks, persistence with unread accounting, then
// fan-out to the chat room and to the recipient's connections.
func (s *Service) SubmitMessage(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	ctx, span := s.tracer.Start(ctx, "chat.SubmitMessage")
	defer span.End()
	span.SetAttributes(attribute.Int("chat.id", req.ChatID), attribute.String("chat.source", req.Source))

	result, err := s.submit(ctx, req)
	switch {
	case err != nil:
		observability.IncMessage(req.Source, "rejected")
		observability.IncMessageRejected(rejectReason(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case result.Duplicate:
		observability.IncMessage(req.Source, "duplicate")
	default:
		observability.IncMessage(req.Source, "delivered")
	}
	return result, err
}

func (s *Service) submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	text := strings.TrimSpace(req.Text)
	idempotencyID := strings.TrimSpace(req.IdempotencyID)
	switch {
	case req.ChatID <= 0:
		return SubmitResult{}, validationError("chat_id is required")
	case text == "":
		return SubmitResult{}, validationError("text is required")
	case utf8.RuneCountInString(text) > maxTextLength:
		return SubmitResult{}, validationError(fmt.Sprintf("text exceeds %d characters", maxTextLength))
	case idempotencyID == "":
		return SubmitResult{}, validationError("idempotency_id is required")
	}

	existing, err := s.messages.GetMessageByClientID(ctx, idempotencyID)
	switch {
	case err == nil:
		return s.duplicate(existing, req)
	case !errors.Is(err, repositories.ErrMessageNotFound):
		return SubmitResult{}, fmt.Errorf("dedup lookup: %w", err)
	}

	chat, err := s.participantChat(ctx, req.ChatID, req.SenderID)
	if err != nil {
		return SubmitResult{}, err
	}
	recipientID := chat.PartnerOf(req.SenderID)

	blocked, err := s.blocks.BlockExists(ctx, req.SenderID, recipientID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("block lookup: %w", err)
	}
	if blocked {
		return SubmitResult{}, ErrBlocked
	}

	appended, err := s.messages.AppendMessage(ctx, repositories.NewMessage{
		ChatID:      chat.ID,
		SenderID:    req.SenderID,
		RecipientID: recipientID,
		Text:        text,
		ClientID:    idempotencyID,
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("append message: %w", err)
	}
	if !appended.Inserted {
		// Lost a concurrent race on the same idempotency id.
		return s.duplicate(appended.Message, req)
	}

	msg := appended.Message
	s.rooms.Broadcast(chat.ID, models.Event{Type: models.EventMessageDelivered, Payload: deliveredPayload(msg)})
	s.connections.Push(recipientID, models.Event{Type: models.EventChatSummaryUpdated, Payload: models.ChatSummaryUpdated{
		ChatID:      chat.ID,
		LastMessage: msg.Text,
		SenderID:    msg.SenderID,
		Timestamp:   msg.CreatedAt,
		UnreadCount: appended.RecipientUnread,
	}})
	s.publish(ctx, models.EventMessageDelivered, deliveredPayload(msg))

	s.logger.Debug("message delivered",
		zap.Int("chat_id", chat.ID),
		zap.Int64("message_id", msg.ID),
		zap.Int("sender_id", msg.SenderID),
		zap.String("source", req.Source))
	return SubmitResult{Message: msg}, nil
}

// duplicate resolves a reused idempotency id as a no-op success. A retry from
// the original sender gets the stored message back; anyone else only gets
// their own request echoed so the stored message is not disclosed.
func (s *Service) duplicate(existing models.Message, req SubmitRequest) (SubmitResult, error) {
	if existing.SenderID != req.SenderID {
		s.logger.Debug("idempotency id reused by another sender",
			zap.Int("chat_id", req.ChatID),
			zap.Int("sender_id", req.SenderID))
		return SubmitResult{
			Message:   models.Message{ChatID: req.ChatID, SenderID: req.SenderID, ClientID: existing.ClientID},
			Duplicate: true,
		}, nil
	}
	return SubmitResult{Message: existing, Duplicate: true}, nil
}

// EditMessage overwrites the text of a message authored by userID.
func (s *Service) EditMessage(ctx context.Context, messageID int64, userID int, text string) (models.Message, error) {
	ctx, span := s.tracer.Start(ctx, "chat.EditMessage")
	defer span.End()

	text = strings.TrimSpace(text)
	switch {
	case messageID <= 0:
		return models.Message{}, validationError("message_id is required")
	case text == "":
		return models.Message{}, validationError("text is required")
	case utf8.RuneCountInString(text) > maxTextLength:
		return models.Message{}, validationError(fmt.Sprintf("text exceeds %d characters", maxTextLength))
	}

	msg, err := s.authoredMessage(ctx, messageID, userID)
	if err != nil {
		return models.Message{}, err
	}
	updated, err := s.messages.UpdateText(ctx, messageID, text)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return models.Message{}, fmt.Errorf("%w: message %d", ErrNotFound, messageID)
		}
		return models.Message{}, fmt.Errorf("update message: %w", err)
	}
	if err := s.chats.RefreshLastMessage(ctx, msg.ChatID); err != nil {
		s.logger.Warn("refresh chat summary", zap.Int("chat_id", msg.ChatID), zap.Error(err))
	}

	payload := models.MessageUpdated{ChatID: updated.ChatID, MessageID: updated.ID, Text: updated.Text}
	s.rooms.Broadcast(updated.ChatID, models.Event{Type: models.EventMessageUpdated, Payload: payload})
	s.publish(ctx, models.EventMessageUpdated, payload)
	return updated, nil
}

// DeleteMessage removes a message authored by userID. When the message was
// still counted as unread for the recipient their counter is decremented.
func (s *Service) DeleteMessage(ctx context.Context, messageID int64, userID int) (models.Message, error) {
	ctx, span := s.tracer.Start(ctx, "chat.DeleteMessage")
	defer span.End()

	if messageID <= 0 {
		return models.Message{}, validationError("message_id is required")
	}
	msg, err := s.authoredMessage(ctx, messageID, userID)
	if err != nil {
		return models.Message{}, err
	}
	chat, err := s.participantChat(ctx, msg.ChatID, userID)
	if err != nil {
		return models.Message{}, err
	}
	recipientID := chat.PartnerOf(userID)

	if err := s.messages.DeleteMessage(ctx, messageID); err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return models.Message{}, fmt.Errorf("%w: message %d", ErrNotFound, messageID)
		}
		return models.Message{}, fmt.Errorf("delete message: %w", err)
	}

	if _, err := s.unread.DecrementUnread(ctx, chat.ID, recipientID, msg.ID); err != nil {
		s.logger.Warn("decrement unread", zap.Int("chat_id", chat.ID), zap.Int("user_id", recipientID), zap.Error(err))
	}
	if err := s.chats.RefreshLastMessage(ctx, chat.ID); err != nil {
		s.logger.Warn("refresh chat summary", zap.Int("chat_id", chat.ID), zap.Error(err))
	}

	payload := models.MessageDeleted{ChatID: chat.ID, MessageID: msg.ID}
	s.rooms.Broadcast(chat.ID, models.Event{Type: models.EventMessageDeleted, Payload: payload})
	s.publish(ctx, models.EventMessageDeleted, payload)
	return msg, nil
}

// ListMessages returns a page of messages in ascending order. beforeID pages
// backwards; zero starts from the newest message.
func (s *Service) ListMessages(ctx context.Context, chatID, userID, limit int, beforeID int64) ([]models.Message, error) {
	if _, err := s.participantChat(ctx, chatID, userID); err != nil {
		return nil, err
	}
	if beforeID < 0 {
		return nil, validationError("before must be positive")
	}
	switch {
	case limit <= 0:
		limit = defaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}
	msgs, err := s.messages.ListMessages(ctx, chatID, limit, beforeID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// LastMessageID returns the newest message id of the chat, nil when empty.
func (s *Service) LastMessageID(ctx context.Context, chatID, userID int) (*int64, error) {
	if _, err := s.participantChat(ctx, chatID, userID); err != nil {
		return nil, err
	}
	msg, err := s.messages.LatestMessage(ctx, chatID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest message: %w", err)
	}
	return &msg.ID, nil
}

func (s *Service) authoredMessage(ctx context.Context, messageID int64, userID int) (models.Message, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return models.Message{}, fmt.Errorf("%w: message %d", ErrNotFound, messageID)
		}
		return models.Message{}, fmt.Errorf("load message: %w", err)
	}
	if msg.SenderID != userID {
		return models.Message{}, fmt.Errorf("%w: message %d belongs to another user", ErrForbidden, messageID)
	}
	return msg, nil
}

func deliveredPayload(msg models.Message) models.MessageDelivered {
	return models.MessageDelivered{
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		ClientID:  msg.ClientID,
		SenderID:  msg.SenderID,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt,
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "internal"
	}
}
