package handlers

import (
	"github.com/gin-gonic/gin"

	"HibiscusHood/internal/models"
	"HibiscusHood/pkg/config"
	"HibiscusHood/pkg/response"
)

type createTransactionRequest struct {
	Kind        string `json:"kind" binding:"required"`
	Category    string `json:"category" binding:"required"`
	Description string `json:"description" binding:"required"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
}

func (h *Handlers) handleCreateTransaction(c *gin.Context) {
	userID := currentUserID(c)
	if userID == 0 {
		response.Fail(c, "error", gin.H{"error": "missing caller identity"})
		return
	}
	var req createTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "error", gin.H{"error": err.Error()})
		return
	}
	tx, err := models.CreateTransaction(c, h.db, models.CreateTransactionInput{
		RequesterID: userID,
		Kind:        req.Kind,
		Category:    req.Category,
		Description: req.Description,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	})
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, "success", gin.H{"transaction": tx})
}

func (h *Handlers) handleGetTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		response.Fail(c, "error", gin.H{"error": "invalid transaction id"})
		return
	}
	tx, err := models.GetTransaction(h.db, id)
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, "success", gin.H{"transaction": tx})
}

func (h *Handlers) handleExpressInterest(c *gin.Context) {
	userID := currentUserID(c)
	if userID == 0 {
		response.Fail(c, "error", gin.H{"error": "missing caller identity"})
		return
	}
	id, ok := pathID(c)
	if !ok {
		response.Fail(c, "error", gin.H{"error": "invalid transaction id"})
		return
	}
	tx, err := models.ExpressInterest(c, h.db, h.dispatcher, id, userID)
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, "success", gin.H{"transaction": tx})
}

func (h *Handlers) handleAcceptTransaction(c *gin.Context) {
	userID := currentUserID(c)
	if userID == 0 {
		response.Fail(c, "error", gin.H{"error": "missing caller identity"})
		return
	}
	id, ok := pathID(c)
	if !ok {
		response.Fail(c, "error", gin.H{"error": "invalid transaction id"})
		return
	}
	tx, err := models.AcceptTransaction(c, h.db, h.dispatcher, id, userID)
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, "success", gin.H{"transaction": tx})
}

type setTxStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handlers) handleSetTransactionStatus(c *gin.Context) {
	userID := currentUserID(c)
	if userID == 0 {
		response.Fail(c, "error", gin.H{"error": "missing caller identity"})
		return
	}
	id, ok := pathID(c)
	if !ok {
		response.Fail(c, "error", gin.H{"error": "invalid transaction id"})
		return
	}
	var req setTxStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "error", gin.H{"error": err.Error()})
		return
	}
	tx, err := models.SetTransactionStatus(c, h.db, h.dispatcher, id, userID, normalizeTxStatus(req.Status))
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, "success", gin.H{"transaction": tx})
}

type confirmCompletionRequest struct {
	Role        string `json:"role" binding:"required"` // requester / provider
	AmountCents int64  `json:"amountCents"`
}

func (h *Handlers) handleConfirmCompletion(c *gin.Context) {
	userID := currentUserID(c)
	if userID == 0 {
		response.Fail(c, "error", gin.H{"error": "missing caller identity"})
		return
	}
	id, ok := pathID(c)
	if !ok {
		response.Fail(c, "error", gin.H{"error": "invalid transaction id"})
		return
	}
	var req confirmCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "error", gin.H{"error": err.Error()})
		return
	}
	policy := models.CompletionEither
	if config.GlobalConfig != nil && config.GlobalConfig.CompletionPolicy != "" {
		policy = config.GlobalConfig.CompletionPolicy
	}
	tx, err := models.ConfirmCompletion(c, h.db, h.dispatcher, policy, id, userID, req.Role, req.AmountCents)
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, "success", gin.H{"transaction": tx})
}

func (h *Handlers) handleBalances(c *gin.Context) {
	userID := currentUserID(c)
	if userID == 0 {
		response.Fail(c, "error", gin.H{"error": "missing caller identity"})
		return
	}
	user, err := models.GetUser(h.db, userID)
	if err != nil {
		response.Fail(c, "error", gin.H{"error": "user not found"})
		return
	}
	response.Success(c, "success", gin.H{
		"generatedBalance": user.GeneratedBalance,
		"spentBalance":     user.SpentBalance,
	})
}
