package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

// HybridHandlers serves the query endpoint and threshold diagnostics.
type HybridHandlers struct {
	hybrid    services.HybridService
	threshold services.ThresholdService
	bots      services.BotStore
}

func NewHybridHandlers(hybrid services.HybridService, threshold services.ThresholdService, bots services.BotStore) *HybridHandlers {
	return &HybridHandlers{hybrid: hybrid, threshold: threshold, bots: bots}
}

type queryRequest struct {
	Query   string                    `json:"query" binding:"required"`
	History []models.ConversationTurn `json:"history,omitempty"`
	Profile *models.UserProfile       `json:"user_profile,omitempty"`
}

// AnswerQuery handles POST /api/v1/bots/:bot_id/query.
func (h *HybridHandlers) AnswerQuery(c *gin.Context) {
	botID, err := uuid.Parse(c.Param("bot_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid bot ID"})
		return
	}

	userID, ok := requestUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User ID not found in context"})
		return
	}

	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	resp, err := h.hybrid.AnswerQuery(c.Request.Context(), models.HybridQueryRequest{
		BotID:       botID,
		UserID:      userID,
		Query:       req.Query,
		History:     req.History,
		UserProfile: req.Profile,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetThresholdRecommendations handles
// GET /api/v1/bots/:bot_id/threshold-recommendations?days=30.
func (h *HybridHandlers) GetThresholdRecommendations(c *gin.Context) {
	botID, err := uuid.Parse(c.Param("bot_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid bot ID"})
		return
	}

	userID, ok := requestUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User ID not found in context"})
		return
	}

	bot, ok := loadOwnedBot(c, h.bots, botID, userID)
	if !ok {
		return
	}

	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days <= 0 {
		days = 30
	}

	recommendations, err := h.threshold.GetRecommendations(c.Request.Context(), botID, bot.EmbeddingProvider, bot.EmbeddingModel, days)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bot_id":          botID,
		"provider":        bot.EmbeddingProvider,
		"model":           bot.EmbeddingModel,
		"window_days":     days,
		"recommendations": recommendations,
	})
}
