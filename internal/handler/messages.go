package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"sealdrop/internal/delivery"
	"sealdrop/internal/middleware"
	"sealdrop/internal/protocol"
)

// MessageHandler exposes the request/response half of the protocol: batch
// acknowledgement and the explicit pending-pull. Both are idempotent.
type MessageHandler struct {
	Engine *delivery.Engine
}

type acknowledgeBody struct {
	MessageIDs []string `json:"messageIds"`
}

func (h *MessageHandler) Acknowledge(c *gin.Context) {
	uid, ok := middleware.UIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var body acknowledgeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	count, err := h.Engine.Acknowledge(c.Request.Context(), uid, body.MessageIDs)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Message store unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "acknowledgedCount": count})
}

func (h *MessageHandler) Pending(c *gin.Context) {
	uid, ok := middleware.UIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	pending, err := h.Engine.Pending(c.Request.Context(), uid)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Message store unavailable"})
		return
	}

	messages := make([]protocol.Frame, 0, len(pending))
	for _, env := range pending {
		messages = append(messages, protocol.PushFrame(env))
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
