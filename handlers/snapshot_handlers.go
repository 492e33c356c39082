package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ragforge/services"
)

// SnapshotHandlers serves snapshot, integrity and rollback operations.
type SnapshotHandlers struct {
	snapshots services.SnapshotService
	bots      services.BotStore
}

func NewSnapshotHandlers(snapshots services.SnapshotService, bots services.BotStore) *SnapshotHandlers {
	return &SnapshotHandlers{snapshots: snapshots, bots: bots}
}

// CreateSnapshot handles POST /api/v1/bots/:bot_id/snapshots.
func (h *SnapshotHandlers) CreateSnapshot(c *gin.Context) {
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

	operationID := fmt.Sprintf("manual-%d", time.Now().UnixNano())
	snapshot, err := h.snapshots.CreateSnapshot(c.Request.Context(), botID, operationID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snapshot)
}

// ListSnapshots handles GET /api/v1/bots/:bot_id/snapshots.
func (h *SnapshotHandlers) ListSnapshots(c *gin.Context) {
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

	snapshots, err := h.snapshots.ListSnapshots(c.Request.Context(), botID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bot_id": botID, "snapshots": snapshots, "count": len(snapshots)})
}

type verifyIntegrityRequest struct {
	Checks   []string `json:"checks,omitempty"`
	Detailed bool     `json:"detailed,omitempty"`
}

// VerifyIntegrity handles POST /api/v1/bots/:bot_id/integrity/verify. An
// empty body runs all six checks without per-issue detail.
func (h *SnapshotHandlers) VerifyIntegrity(c *gin.Context) {
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

	var req verifyIntegrityRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	results, err := h.snapshots.VerifyIntegrity(c.Request.Context(), botID, req.Checks, req.Detailed)
	if err != nil {
		writeError(c, err)
		return
	}

	critical := 0
	for _, result := range results {
		critical += result.CriticalCount()
	}
	c.JSON(http.StatusOK, gin.H{
		"bot_id":          botID,
		"results":         results,
		"critical_issues": critical,
		"passed":          critical == 0,
	})
}

type rollbackRequest struct {
	SnapshotID string `json:"snapshot_id" binding:"required"`
	PlanOnly   bool   `json:"plan_only,omitempty"`
}

// Rollback handles POST /api/v1/bots/:bot_id/rollback. With plan_only the
// response is the step plan; otherwise the rollback executes and the report
// is returned.
func (h *SnapshotHandlers) Rollback(c *gin.Context) {
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

	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if req.PlanOnly {
		plan, err := h.snapshots.PlanRollback(c.Request.Context(), botID, req.SnapshotID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, plan)
		return
	}

	report, err := h.snapshots.ExecuteRollback(c.Request.Context(), botID, req.SnapshotID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
