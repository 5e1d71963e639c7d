package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pairchat/internal/chat"
	"pairchat/internal/models"
)

// GetChatMessages returns a page of messages, oldest first.
func (h *ChatHandler) GetChatMessages(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	var before int64
	if raw := c.Query("before"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before"})
			return
		}
		before = parsed
	}

	msgs, err := h.service.ListMessages(c.Request.Context(), chatID, c.GetInt("userID"), limit, before)
	if err != nil {
		h.respondError(c, err, "failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// LastMessageID returns the newest message id of the chat or null.
func (h *ChatHandler) LastMessageID(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	id, err := h.service.LastMessageID(c.Request.Context(), chatID, c.GetInt("userID"))
	if err != nil {
		h.respondError(c, err, "failed to load last message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_id": chatID, "last_message_id": id})
}

// PostChatMessage submits a message through the delivery pipeline.
func (h *ChatHandler) PostChatMessage(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	var req struct {
		Text          string `json:"text" binding:"required"`
		IdempotencyID string `json:"idempotency_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.SubmitMessage(c.Request.Context(), chat.SubmitRequest{
		ChatID:        chatID,
		SenderID:      c.GetInt("userID"),
		Text:          req.Text,
		IdempotencyID: req.IdempotencyID,
		Source:        chat.SourceHTTP,
	})
	if err != nil {
		h.respondError(c, err, "failed to store message")
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, result.Message)
}

// EditMessage rewrites the text of the caller's own message.
func (h *ChatHandler) EditMessage(c *gin.Context) {
	messageID, ok := messageIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.service.EditMessage(c.Request.Context(), messageID, c.GetInt("userID"), req.Text)
	if err != nil {
		h.respondError(c, err, "could not edit message")
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage removes the caller's own message for both participants.
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := messageIDParam(c)
	if !ok {
		return
	}
	msg, err := h.service.DeleteMessage(c.Request.Context(), messageID, c.GetInt("userID"))
	if err != nil {
		h.respondError(c, err, "could not delete message")
		return
	}
	h.audit(c, "message_deleted", "message "+strconv.FormatInt(msg.ID, 10)+" deleted in chat "+strconv.Itoa(msg.ChatID))
	c.Status(http.StatusNoContent)
}

func messageIDParam(c *gin.Context) (int64, bool) {
	messageID, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	if err != nil || messageID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return 0, false
	}
	return messageID, true
}
