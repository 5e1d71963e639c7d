package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pairchat/internal/chat"
)

// respondError writes the status for a service error. Unknown errors are
// logged and answered with a generic message.
func (h *ChatHandler) respondError(c *gin.Context, err error, internalMessage string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, chat.ErrConflict):
		status = http.StatusConflict
	default:
		h.logger.Error(internalMessage,
			zap.String("path", c.FullPath()),
			zap.Int("user_id", c.GetInt("userID")),
			zap.Error(err))
		c.JSON(status, gin.H{"error": internalMessage})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
