package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

// OperationsHandlers serves the reprocessing queue surface.
type OperationsHandlers struct {
	queue services.QueueService
	bots  services.BotStore
}

func NewOperationsHandlers(queue services.QueueService, bots services.BotStore) *OperationsHandlers {
	return &OperationsHandlers{queue: queue, bots: bots}
}

type reprocessRequest struct {
	Priority                string `json:"priority,omitempty"`
	BatchSize               int    `json:"batch_size,omitempty"`
	ForceRecreateCollection bool   `json:"force_recreate_collection,omitempty"`
	EnableRollback          *bool  `json:"enable_rollback,omitempty"`
}

// Reprocess handles POST /api/v1/bots/:bot_id/reprocess. The body is
// optional; defaults apply when it is absent.
func (h *OperationsHandlers) Reprocess(c *gin.Context) {
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

	if _, ok := loadOwnedBot(c, h.bots, botID, userID); !ok {
		return
	}

	var req reprocessRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	opts := models.DefaultReprocessOptions()
	if req.BatchSize > 0 {
		opts.BatchSize = req.BatchSize
	}
	opts.ForceRecreateCollection = req.ForceRecreateCollection
	if req.EnableRollback != nil {
		opts.EnableRollback = *req.EnableRollback
	}

	receipt, err := h.queue.Enqueue(c.Request.Context(), botID, userID, opts, models.ParsePriority(req.Priority))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, receipt)
}

// GetOperation handles GET /api/v1/operations/:operation_id.
func (h *OperationsHandlers) GetOperation(c *gin.Context) {
	operationID := c.Param("operation_id")

	userID, ok := requestUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User ID not found in context"})
		return
	}

	progress, report, found := h.queue.GetOperation(operationID)
	if !found || progress == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Operation not found"})
		return
	}
	if !h.canAccessOperation(c, progress.BotID, userID) {
		return
	}

	body := gin.H{"operation_id": operationID, "progress": progress}
	if report != nil {
		body["report"] = report
	}
	c.JSON(http.StatusOK, body)
}

// CancelOperation handles DELETE /api/v1/operations/:operation_id.
func (h *OperationsHandlers) CancelOperation(c *gin.Context) {
	operationID := c.Param("operation_id")

	userID, ok := requestUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User ID not found in context"})
		return
	}

	progress, _, found := h.queue.GetOperation(operationID)
	if !found || progress == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Operation not found"})
		return
	}
	if !h.canAccessOperation(c, progress.BotID, userID) {
		return
	}

	if err := h.queue.Cancel(operationID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Operation cancelled", "operation_id": operationID})
}

// QueueStatus handles GET /api/v1/operations. The snapshot spans every
// tenant, so it is admin-only.
func (h *OperationsHandlers) QueueStatus(c *gin.Context) {
	if !isAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Queue status requires admin role"})
		return
	}
	c.JSON(http.StatusOK, h.queue.Status())
}

// PauseQueue handles POST /api/v1/operations/pause (admin only).
func (h *OperationsHandlers) PauseQueue(c *gin.Context) {
	if !isAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Pausing the queue requires admin role"})
		return
	}
	h.queue.Pause()
	c.JSON(http.StatusOK, gin.H{"message": "Queue paused"})
}

// ResumeQueue handles POST /api/v1/operations/resume (admin only).
func (h *OperationsHandlers) ResumeQueue(c *gin.Context) {
	if !isAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Resuming the queue requires admin role"})
		return
	}
	h.queue.Resume()
	c.JSON(http.StatusOK, gin.H{"message": "Queue resumed"})
}

// canAccessOperation enforces bot ownership (or admin) for operation access.
func (h *OperationsHandlers) canAccessOperation(c *gin.Context, botID, userID uuid.UUID) bool {
	if isAdmin(c) {
		return true
	}
	bot, err := h.bots.GetBot(c.Request.Context(), botID)
	if err != nil {
		writeError(c, err)
		return false
	}
	if bot.OwnerID != userID {
		writeError(c, models.NewPermissionDeniedError("access this operation"))
		return false
	}
	return true
}
