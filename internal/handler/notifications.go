package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"HibiscusHood/pkg/notification"
	"HibiscusHood/pkg/response"
)

func (h *Handlers) handleListNotifications(c *gin.Context) {
	userID := currentUserID(c)
	if userID == 0 {
		response.Fail(c, "error", gin.H{"error": "missing caller identity"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	items, err := notification.ListNotifications(h.db, userID, limit)
	if err != nil {
		response.Fail(c, "error", gin.H{"error": err.Error()})
		return
	}
	response.Success(c, "success", gin.H{"notifications": items})
}

func (h *Handlers) handleUnReadNotificationCount(c *gin.Context) {
	userID := currentUserID(c)
	if userID == 0 {
		response.Fail(c, "error", gin.H{"error": "missing caller identity"})
		return
	}
	count, err := notification.UnreadCount(h.db, userID)
	if err != nil {
		response.Fail(c, "error", gin.H{"error": err.Error()})
		return
	}
	response.Success(c, "success", gin.H{"count": count})
}

func (h *Handlers) handleMarkNotificationAsRead(c *gin.Context) {
	userID := currentUserID(c)
	if userID == 0 {
		response.Fail(c, "error", gin.H{"error": "missing caller identity"})
		return
	}
	id, ok := pathID(c)
	if !ok {
		response.Fail(c, "error", gin.H{"error": "invalid notification id"})
		return
	}
	if err := notification.MarkRead(h.db, userID, id); err != nil {
		response.Fail(c, "error", gin.H{"error": err.Error()})
		return
	}
	response.Success(c, "success", gin.H{})
}

func (h *Handlers) handleReadAllNotifications(c *gin.Context) {
	userID := currentUserID(c)
	if userID == 0 {
		response.Fail(c, "error", gin.H{"error": "missing caller identity"})
		return
	}
	if err := notification.MarkAllRead(h.db, userID); err != nil {
		response.Fail(c, "error", gin.H{"error": err.Error()})
		return
	}
	response.Success(c, "success", gin.H{})
}
