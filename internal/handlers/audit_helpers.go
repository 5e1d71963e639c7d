package handlers

import (
	"github.com/gin-gonic/gin"

	"pairchat/internal/observability"
)

func requestIDFromContext(c *gin.Context) string {
	if id := observability.RequestIDFromContext(c.Request.Context()); id != "" {
		return id
	}
	return observability.RequestIDFromRequest(c.Request)
}

func (h *ChatHandler) audit(c *gin.Context, action, text string) {
	if h.audits == nil {
		return
	}
	h.audits.Emit(c.Request.Context(), "INFO", action, text, requestIDFromContext(c), c.GetInt("userID"))
}
