package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pairchat/internal/chat"
	"pairchat/internal/models"
	"pairchat/internal/telemetry"
)

// ChatService is the chat.Service surface exposed over REST.
type ChatService interface {
	FindOrCreateChat(ctx context.Context, userID, partnerID int) (models.Chat, bool, error)
	ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error)
	ChatInfo(ctx context.Context, chatID, userID int) (models.ChatInfo, error)
	DeleteChat(ctx context.Context, chatID, userID int) error
	SubmitMessage(ctx context.Context, req chat.SubmitRequest) (chat.SubmitResult, error)
	EditMessage(ctx context.Context, messageID int64, userID int, text string) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID int64, userID int) (models.Message, error)
	ListMessages(ctx context.Context, chatID, userID, limit int, beforeID int64) ([]models.Message, error)
	LastMessageID(ctx context.Context, chatID, userID int) (*int64, error)
	MarkRead(ctx context.Context, req chat.MarkReadRequest) (chat.ReadResult, error)
	UnreadCounts(ctx context.Context, userID int) (map[int]int, error)
	Block(ctx context.Context, blockerID, blockedID int) error
	Unblock(ctx context.Context, blockerID, blockedID int) error
	BlockStatus(ctx context.Context, chatID, userID int) (bool, error)
	UpdateAvatar(ctx context.Context, userID int, avatar string) error
}

// ChatHandler manages private chat endpoints.
type ChatHandler struct {
	service ChatService
	audits  *telemetry.AuditEmitter
	logger  *zap.Logger
}

// NewChatHandler builds a ChatHandler. audits may be nil.
func NewChatHandler(service ChatService, audits *telemetry.AuditEmitter, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{service: service, audits: audits, logger: logger}
}

// Register mounts the chat routes on an authenticated group. sendLimit guards
// message submission and may be nil.
func (h *ChatHandler) Register(router gin.IRouter, sendLimit gin.HandlerFunc) {
	chats := router.Group("/chats")
	chats.POST("", h.StartChat)
	chats.GET("", h.ListChats)
	chats.GET("/unread", h.UnreadCounts)
	chats.GET("/:chat_id", h.GetChat)
	chats.DELETE("/:chat_id", h.DeleteChat)
	chats.GET("/:chat_id/block-status", h.BlockStatus)
	chats.POST("/:chat_id/read", h.MarkRead)
	chats.GET("/:chat_id/messages", h.GetChatMessages)
	chats.GET("/:chat_id/messages/last-id", h.LastMessageID)
	if sendLimit != nil {
		chats.POST("/:chat_id/messages", sendLimit, h.PostChatMessage)
	} else {
		chats.POST("/:chat_id/messages", h.PostChatMessage)
	}

	router.PUT("/messages/:message_id", h.EditMessage)
	router.DELETE("/messages/:message_id", h.DeleteMessage)

	router.POST("/blocks", h.Block)
	router.DELETE("/blocks/:user_id", h.Unblock)

	router.PUT("/profile/avatar", h.UpdateAvatar)
}

// StartChat creates or returns the private chat with a partner.
func (h *ChatHandler) StartChat(c *gin.Context) {
	var req struct {
		PartnerID int `json:"partner_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	started, created, err := h.service.FindOrCreateChat(c.Request.Context(), c.GetInt("userID"), req.PartnerID)
	if err != nil {
		h.respondError(c, err, "could not create chat")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"chat_id": started.ID, "created": created})
}

// ListChats returns the chats visible to the authenticated user.
func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.service.ListChats(c.Request.Context(), c.GetInt("userID"))
	if err != nil {
		h.respondError(c, err, "failed to load chats")
		return
	}
	if chats == nil {
		chats = []models.ChatSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// UnreadCounts returns the caller's unread counters keyed by chat id.
func (h *ChatHandler) UnreadCounts(c *gin.Context) {
	counts, err := h.service.UnreadCounts(c.Request.Context(), c.GetInt("userID"))
	if err != nil {
		h.respondError(c, err, "failed to load unread counts")
		return
	}
	if counts == nil {
		counts = map[int]int{}
	}
	c.JSON(http.StatusOK, gin.H{"unread": counts})
}

// GetChat returns the partner profile and block flags of a chat.
func (h *ChatHandler) GetChat(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	info, err := h.service.ChatInfo(c.Request.Context(), chatID, c.GetInt("userID"))
	if err != nil {
		h.respondError(c, err, "failed to load chat")
		return
	}
	c.JSON(http.StatusOK, info)
}

// DeleteChat removes the chat and its history for both participants.
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	if err := h.service.DeleteChat(c.Request.Context(), chatID, c.GetInt("userID")); err != nil {
		h.respondError(c, err, "could not delete chat")
		return
	}
	h.audit(c, "chat_deleted", "chat "+strconv.Itoa(chatID)+" deleted")
	c.Status(http.StatusNoContent)
}

// BlockStatus reports whether either participant blocks the other.
func (h *ChatHandler) BlockStatus(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	blocked, err := h.service.BlockStatus(c.Request.Context(), chatID, c.GetInt("userID"))
	if err != nil {
		h.respondError(c, err, "failed to load block status")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_id": chatID, "blocked": blocked})
}

// MarkRead advances the caller's read cursor.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	var req struct {
		LastReadMessageID *int64 `json:"last_read_message_id"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	result, err := h.service.MarkRead(c.Request.Context(), chat.MarkReadRequest{
		ChatID:            chatID,
		UserID:            c.GetInt("userID"),
		LastReadMessageID: req.LastReadMessageID,
	})
	if err != nil {
		h.respondError(c, err, "could not mark chat read")
		return
	}
	c.JSON(http.StatusOK, result)
}

func chatIDParam(c *gin.Context) (int, bool) {
	chatID, err := strconv.Atoi(c.Param("chat_id"))
	if err != nil || chatID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return 0, false
	}
	return chatID, true
}
