package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pairchat/internal/chat"
	"pairchat/internal/models"
	"pairchat/internal/observability"
)

const commandTimeout = 10 * time.Second

// Live command actions.
const (
	ActionJoinRoom        = "join-room"
	ActionLeaveRoom       = "leave-room"
	ActionStartChat       = "start-chat"
	ActionSendMessage     = "send-message"
	ActionMarkRead        = "mark-read"
	ActionDeleteMessage   = "delete-message"
	ActionGetUnreadCounts = "get-unread-counts"
	ActionUpdateAvatar    = "update-avatar"
)

// Ack statuses.
const (
	AckOK          = "ok"
	AckError       = "error"
	AckBlocked     = "blocked"
	AckForbidden   = "forbidden"
	AckNotFound    = "not_found"
	AckRateLimited = "rate_limited"
)

// Authenticator resolves the caller of a handshake request.
type Authenticator interface {
	UserIDFromRequest(r *http.Request) (int, error)
}

// ChatService is the subset of chat.Service used by live commands.
type ChatService interface {
	FindOrCreateChat(ctx context.Context, userID, partnerID int) (models.Chat, bool, error)
	EnterChat(ctx context.Context, chatID, userID int) (models.ChatSummaryUpdated, error)
	SubmitMessage(ctx context.Context, req chat.SubmitRequest) (chat.SubmitResult, error)
	MarkRead(ctx context.Context, req chat.MarkReadRequest) (chat.ReadResult, error)
	DeleteMessage(ctx context.Context, messageID int64, userID int) (models.Message, error)
	UnreadCounts(ctx context.Context, userID int) (map[int]int, error)
	UpdateAvatar(ctx context.Context, userID int, avatar string) error
}

// EventPublisher receives websocket lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Command is an inbound live frame.
type Command struct {
	Action        string `json:"action"`
	RequestID     string `json:"request_id"`
	ChatID        int    `json:"chat_id"`
	PartnerID     int    `json:"partner_id"`
	MessageID     int64  `json:"message_id"`
	Text          string `json:"text"`
	IdempotencyID string `json:"idempotency_id"`
	Avatar        string `json:"avatar"`
}

// HandlerConfig wires a ChatWebSocketHandler.
type HandlerConfig struct {
	Hub               *Hub
	Registry          *Registry
	Service           ChatService
	Auth              Authenticator
	Events            EventPublisher
	Logger            *zap.Logger
	MessagesPerSecond float64
	Burst             int
	AllowedOrigins    []string
}

// ChatWebSocketHandler serves the live endpoint: one socket per client, any
// number of joined chat rooms.
type ChatWebSocketHandler struct {
	hub      *Hub
	registry *Registry
	service  ChatService
	auth     Authenticator
	events   EventPublisher
	logger   *zap.Logger
	limit    rate.Limit
	burst    int
	upgrader websocket.Upgrader
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(cfg HandlerConfig) *ChatWebSocketHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.MessagesPerSecond > 0 {
		limit = rate.Limit(cfg.MessagesPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &ChatWebSocketHandler{
		hub:      cfg.Hub,
		registry: cfg.Registry,
		service:  cfg.Service,
		auth:     cfg.Auth,
		events:   cfg.Events,
		logger:   logger,
		limit:    limit,
		burst:    burst,
		upgrader: websocket.Upgrader{CheckOrigin: originChecker(cfg.AllowedOrigins)},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, candidate := range allowed {
			if candidate == "*" || strings.EqualFold(candidate, origin) {
				return true
			}
		}
		return false
	}
}

// Handle authenticates, upgrades and serves the connection until it closes.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("pairchat/ws").Start(c.Request.Context(), "ws.handshake")
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.auth.UserIDFromRequest(c.Request)
	if err != nil {
		span.End()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		h.logger.Debug("websocket upgrade failed", zap.Int("user_id", userID), zap.Error(err))
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	span.End()

	client := newClient(conn, info, rate.NewLimiter(h.limit, h.burst))
	h.registry.Register(ctx, userID, client)
	observability.IncWSActive(observability.WSKind)
	h.lifecycle(ctx, "ws_connect", info, "")
	h.logger.Info("websocket connected", zap.Int("user_id", userID), zap.String("conn_id", info.ConnID))

	go client.writePump()
	err = client.readPump(func(data []byte) { h.dispatch(ctx, client, data) })

	reason := ""
	if err != nil {
		reason = err.Error()
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			h.lifecycle(ctx, "ws_error", info, reason)
		}
	}
	h.hub.Detach(client)
	h.registry.Unregister(userID, client)
	client.Close()
	observability.DecWSActive(observability.WSKind)
	h.lifecycle(ctx, "ws_disconnect", info, reason)
	h.logger.Info("websocket disconnected", zap.Int("user_id", userID), zap.String("conn_id", info.ConnID), zap.String("reason", reason))
}

func (h *ChatWebSocketHandler) lifecycle(ctx context.Context, event string, info ConnInfo, reason string) {
	observability.IncWSEvent(observability.WSKind, event)
	if h.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commandTimeout)
	defer cancel()
	if err := h.events.Publish(ctx, observability.WSRoutingKey, observability.WSEvent(event, info.lifecycle(), reason)); err != nil {
		h.logger.Warn("publish websocket event", zap.String("event", event), zap.Error(err))
	}
}

func (h *ChatWebSocketHandler) dispatch(parent context.Context, client *Client, data []byte) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		h.reply(client, models.Ack{Status: AckError, Reason: "invalid payload"})
		return
	}
	ctx, cancel := context.WithTimeout(parent, commandTimeout)
	defer cancel()
	h.reply(client, h.execute(ctx, client, cmd))
}

func (h *ChatWebSocketHandler) execute(ctx context.Context, client *Client, cmd Command) models.Ack {
	ack := models.Ack{Action: cmd.Action, RequestID: cmd.RequestID, Status: AckOK, ChatID: cmd.ChatID}
	userID := client.UserID()

	switch cmd.Action {
	case ActionJoinRoom:
		summary, err := h.service.EnterChat(ctx, cmd.ChatID, userID)
		if err != nil {
			return failure(ack, err)
		}
		h.hub.Join(cmd.ChatID, client)
		h.send(client, models.Event{Type: models.EventChatSummaryUpdated, Payload: summary})

	case ActionLeaveRoom:
		h.hub.Leave(cmd.ChatID, client)

	case ActionStartChat:
		started, _, err := h.service.FindOrCreateChat(ctx, userID, cmd.PartnerID)
		if err != nil {
			return failure(ack, err)
		}
		h.hub.Join(started.ID, client)
		ack.ChatID = started.ID

	case ActionSendMessage:
		if !client.allow() {
			ack.Status = AckRateLimited
			ack.Reason = "too many messages"
			return ack
		}
		result, err := h.service.SubmitMessage(ctx, chat.SubmitRequest{
			ChatID:        cmd.ChatID,
			SenderID:      userID,
			Text:          cmd.Text,
			IdempotencyID: cmd.IdempotencyID,
			Source:        chat.SourceWS,
		})
		if err != nil {
			return failure(ack, err)
		}
		ack.MessageID = result.Message.ID

	case ActionMarkRead:
		if _, err := h.service.MarkRead(ctx, chat.MarkReadRequest{ChatID: cmd.ChatID, UserID: userID}); err != nil {
			return failure(ack, err)
		}

	case ActionDeleteMessage:
		msg, err := h.service.DeleteMessage(ctx, cmd.MessageID, userID)
		if err != nil {
			return failure(ack, err)
		}
		ack.ChatID = msg.ChatID
		ack.MessageID = msg.ID

	case ActionGetUnreadCounts:
		counts, err := h.service.UnreadCounts(ctx, userID)
		if err != nil {
			return failure(ack, err)
		}
		ack.Unread = counts

	case ActionUpdateAvatar:
		if err := h.service.UpdateAvatar(ctx, userID, cmd.Avatar); err != nil {
			return failure(ack, err)
		}

	default:
		ack.Status = AckError
		ack.Reason = "unknown action"
	}
	return ack
}

func (h *ChatWebSocketHandler) reply(client *Client, ack models.Ack) {
	h.send(client, models.Event{Type: models.EventAck, Payload: ack})
}

func (h *ChatWebSocketHandler) send(client *Client, event models.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal websocket event", zap.String("type", event.Type), zap.Error(err))
		return
	}
	if err := client.Send(payload); err != nil {
		h.logger.Warn("websocket reply dropped", zap.String("conn_id", client.ID()), zap.Error(err))
	}
}

// failure maps a service error onto an ack. Internal errors are not exposed.
func failure(ack models.Ack, err error) models.Ack {
	switch {
	case errors.Is(err, chat.ErrBlocked):
		ack.Status = AckBlocked
	case errors.Is(err, chat.ErrForbidden):
		ack.Status = AckForbidden
	case errors.Is(err, chat.ErrNotFound):
		ack.Status = AckNotFound
	case errors.Is(err, chat.ErrValidation), errors.Is(err, chat.ErrConflict):
		ack.Status = AckError
	default:
		ack.Status = AckError
		ack.Reason = "internal error"
		return ack
	}
	ack.Reason = err.Error()
	return ack
}
