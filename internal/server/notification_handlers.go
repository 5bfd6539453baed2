package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	onlyUnread := c.Query("unread") == "true"
	rows, err := h.notifications.ListForUser(c.Request.Context(), currentIdentity(c).UserID, onlyUnread)
	if err != nil {
		h.logger.Error("notification list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": rows})
}

type markReadPayload struct {
	IDs []uint `json:"ids"`
}

func (h *httpHandler) handleMarkNotificationsRead(c *gin.Context) {
	var request markReadPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.IDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updated, err := h.notifications.MarkRead(c.Request.Context(), currentIdentity(c).UserID, request.IDs)
	if err != nil {
		h.logger.Error("notification mark read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}
