package handlers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"HibiscusHood/internal/models"
	"HibiscusHood/pkg/config"
	"HibiscusHood/pkg/response"
)

type createAlertRequest struct {
	Category    string          `json:"category" binding:"required"`
	Description string          `json:"description" binding:"required"`
	Severity    string          `json:"severity" binding:"required"`
	Location    models.Location `json:"location"`
	Contact     string          `json:"contact"`
}

func (h *Handlers) handleCreateAlert(c *gin.Context) {
	userID := currentUserID(c)
	if userID == 0 {
		response.Fail(c, "error", gin.H{"error": "missing caller identity"})
		return
	}
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "error", gin.H{"error": err.Error()})
		return
	}
	alert, err := models.CreateAlert(c, h.db, h.cooldown, h.dispatcher, models.CreateAlertInput{
		ReporterID:  userID,
		Category:    req.Category,
		Description: req.Description,
		Severity:    req.Severity,
		Location:    req.Location,
		Contact:     req.Contact,
	})
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, "success", gin.H{"alert": alert})
}

func (h *Handlers) handleListAlerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	window := 24 * time.Hour
	if config.GlobalConfig != nil && config.GlobalConfig.ActiveWindow > 0 {
		window = config.GlobalConfig.ActiveWindow
	}
	alerts, err := models.RecentOpenAlerts(h.db, time.Now().Add(-window), limit)
	if err != nil {
		response.Fail(c, "error", gin.H{"error": err.Error()})
		return
	}
	response.Success(c, "success", gin.H{"alerts": alerts})
}

func (h *Handlers) handleGetAlert(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		response.Fail(c, "error", gin.H{"error": "invalid alert id"})
		return
	}
	var alert models.Alert
	if err := h.db.First(&alert, id).Error; err != nil {
		response.Fail(c, "error", gin.H{"error": "alert not found"})
		return
	}
	response.Success(c, "success", gin.H{"alert": alert})
}

func (h *Handlers) handleRespondToAlert(c *gin.Context) {
	userID := currentUserID(c)
	if userID == 0 {
		response.Fail(c, "error", gin.H{"error": "missing caller identity"})
		return
	}
	id, ok := pathID(c)
	if !ok {
		response.Fail(c, "error", gin.H{"error": "invalid alert id"})
		return
	}
	if err := models.RespondToAlert(c, h.db, id, userID); err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, "success", gin.H{})
}

func (h *Handlers) handleCancelResponse(c *gin.Context) {
	userID := currentUserID(c)
	if userID == 0 {
		response.Fail(c, "error", gin.H{"error": "missing caller identity"})
		return
	}
	id, ok := pathID(c)
	if !ok {
		response.Fail(c, "error", gin.H{"error": "invalid alert id"})
		return
	}
	if err := models.CancelResponse(c, h.db, id, userID); err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, "success", gin.H{})
}

type setAlertStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handlers) handleSetAlertStatus(c *gin.Context) {
	userID := currentUserID(c)
	if userID == 0 {
		response.Fail(c, "error", gin.H{"error": "missing caller identity"})
		return
	}
	id, ok := pathID(c)
	if !ok {
		response.Fail(c, "error", gin.H{"error": "invalid alert id"})
		return
	}
	var req setAlertStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "error", gin.H{"error": err.Error()})
		return
	}
	alert, err := models.SetAlertStatus(c, h.db, id, userID, normalizeAlertStatus(req.Status))
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, "success", gin.H{"alert": alert})
}
