package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RegisterDebug mounts dev-only routes used to check the audit pipeline end
// to end from a running instance.
func (h *ChatHandler) RegisterDebug(router gin.IRouter) {
	router.POST("/debug/audit", h.EmitAudit)
}

// EmitAudit publishes an audit record with a caller-chosen action, tagged
// with the caller and the request id.
func (h *ChatHandler) EmitAudit(c *gin.Context) {
	if h.audits == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
		return
	}

	var req struct {
		Action string `json:"action" binding:"required"`
		Text   string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := strings.TrimPrefix(strings.TrimSpace(req.Action), "debug_")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action is required"})
		return
	}
	action := "debug_" + name
	h.audit(c, action, req.Text)
	c.JSON(http.StatusAccepted, gin.H{"action": action, "request_id": requestIDFromContext(c)})
}
