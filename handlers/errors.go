package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

// requestUser returns the authenticated user id placed in the context by the
// auth middleware.
func requestUser(c *gin.Context) (uuid.UUID, bool) {
	raw, exists := c.Get("user_id")
	if !exists {
		return uuid.Nil, false
	}
	str, ok := raw.(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(str)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func isAdmin(c *gin.Context) bool {
	raw, exists := c.Get("role")
	if !exists {
		return false
	}
	role, ok := raw.(string)
	return ok && role == "admin"
}

// loadOwnedBot fetches the bot and enforces that the caller owns it or is an
// admin. Used by destructive and diagnostic operations.
func loadOwnedBot(c *gin.Context, bots services.BotStore, botID, userID uuid.UUID) (*models.Bot, bool) {
	bot, err := bots.GetBot(c.Request.Context(), botID)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if bot.OwnerID != userID && !isAdmin(c) {
		writeError(c, models.NewPermissionDeniedError("manage this bot"))
		return nil, false
	}
	return bot, true
}

// writeError translates the error taxonomy into HTTP statuses. Unclassified
// errors become 500s with a generic body; the cause is logged server-side.
func writeError(c *gin.Context, err error) {
	var keyErr *models.APIKeyError
	var compositeErr *models.CompositeKeyError

	switch {
	case models.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case models.IsPermissionDenied(err):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case models.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case models.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case models.IsTimeout(err):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	case errors.As(err, &keyErr):
		c.JSON(keyErrorStatus(keyErr.Type), gin.H{
			"error":       keyErr.Error(),
			"provider":    keyErr.Provider,
			"error_type":  keyErr.Type,
			"remediation": keyErr.Remediation,
		})
	case errors.As(err, &compositeErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":       compositeErr.Error(),
			"provider":    compositeErr.Provider,
			"attempts":    compositeErr.Attempts,
			"remediation": compositeErr.RemediationSteps(),
		})
	default:
		log.Printf("[HTTP] unhandled error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func keyErrorStatus(t models.APIKeyErrorType) int {
	switch t {
	case models.APIKeyErrorRateLimited:
		return http.StatusTooManyRequests
	case models.APIKeyErrorValidationTimeout:
		return http.StatusGatewayTimeout
	case models.APIKeyErrorNetworkError:
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}
