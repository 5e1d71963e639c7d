package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Block stops the target user from messaging the caller and vice versa.
func (h *ChatHandler) Block(c *gin.Context) {
	var req struct {
		UserID int `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.Block(c.Request.Context(), c.GetInt("userID"), req.UserID); err != nil {
		h.respondError(c, err, "could not block user")
		return
	}
	h.audit(c, "user_blocked", "blocked user "+strconv.Itoa(req.UserID))
	c.Status(http.StatusNoContent)
}

// Unblock lifts a block placed by the caller.
func (h *ChatHandler) Unblock(c *gin.Context) {
	blockedID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil || blockedID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if err := h.service.Unblock(c.Request.Context(), c.GetInt("userID"), blockedID); err != nil {
		h.respondError(c, err, "could not unblock user")
		return
	}
	h.audit(c, "user_unblocked", "unblocked user "+strconv.Itoa(blockedID))
	c.Status(http.StatusNoContent)
}
