package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// UpdateAvatar stores the caller's avatar url and relays it to chat partners.
func (h *ChatHandler) UpdateAvatar(c *gin.Context) {
	var req struct {
		Avatar string `json:"avatar"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.UpdateAvatar(c.Request.Context(), c.GetInt("userID"), req.Avatar); err != nil {
		h.respondError(c, err, "could not update avatar")
		return
	}
	c.Status(http.StatusNoContent)
}
