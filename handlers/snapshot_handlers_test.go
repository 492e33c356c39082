package handlers

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/models"
)

func TestSnapshotHandlers_CreateSnapshot(t *testing.T) {
	f := setupHandlers(t)
	f.snapshots.snapshot = &models.Snapshot{
		SnapshotID:    "snapshot_a1b2c3d4_1700000000",
		BotID:         f.bot.ID,
		CreatedAt:     time.Now().UTC(),
		DocumentCount: 2,
		ChunkCount:    5,
		VectorCount:   5,
	}

	w := f.asOwner(t, http.MethodPost, f.botPath("/snapshots"), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, strings.HasPrefix(f.snapshots.gotOpID, "manual-"))

	var snapshot models.Snapshot
	decodeBody(t, w, &snapshot)
	assert.Equal(t, "snapshot_a1b2c3d4_1700000000", snapshot.SnapshotID)
	assert.Equal(t, f.bot.ID, snapshot.BotID)
	assert.Equal(t, 5, snapshot.ChunkCount)

	t.Run("invalid bot id", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/bots/nope/snapshots", f.owner.String(), "user", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		w := f.do(t, http.MethodPost, f.botPath("/snapshots"), "", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("stranger is rejected", func(t *testing.T) {
		w := f.do(t, http.MethodPost, f.botPath("/snapshots"), uuid.NewString(), "user", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("service failure maps through the taxonomy", func(t *testing.T) {
		f.snapshots.createErr = models.NewValidationError("snapshot id contains path separators")
		w := f.asOwner(t, http.MethodPost, f.botPath("/snapshots"), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSnapshotHandlers_ListSnapshots(t *testing.T) {
	f := setupHandlers(t)
	f.snapshots.list = []*models.Snapshot{
		{SnapshotID: "nightly_2", BotID: f.bot.ID},
		{SnapshotID: "nightly_1", BotID: f.bot.ID},
	}

	w := f.asOwner(t, http.MethodGet, f.botPath("/snapshots"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		BotID     uuid.UUID          `json:"bot_id"`
		Snapshots []*models.Snapshot `json:"snapshots"`
		Count     int                `json:"count"`
	}
	decodeBody(t, w, &body)
	assert.Equal(t, f.bot.ID, body.BotID)
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Snapshots, 2)
	assert.Equal(t, "nightly_2", body.Snapshots[0].SnapshotID)

	t.Run("empty list", func(t *testing.T) {
		f.snapshots.list = nil
		w := f.asOwner(t, http.MethodGet, f.botPath("/snapshots"), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Count int `json:"count"`
		}
		decodeBody(t, w, &body)
		assert.Zero(t, body.Count)
	})

	t.Run("stranger is rejected", func(t *testing.T) {
		w := f.do(t, http.MethodGet, f.botPath("/snapshots"), uuid.NewString(), "user", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestSnapshotHandlers_VerifyIntegrity(t *testing.T) {
	f := setupHandlers(t)
	f.snapshots.results = map[string]*models.IntegrityResult{
		models.CheckDocumentChunkConsistency: {
			Check:  models.CheckDocumentChunkConsistency,
			Passed: true,
			Issues: []models.IntegrityIssue{},
		},
		models.CheckReferentialIntegrity: {
			Check:  models.CheckReferentialIntegrity,
			Passed: false,
			Issues: []models.IntegrityIssue{{
				Level:   models.IntegrityCritical,
				Message: "2 chunks reference documents that no longer exist",
			}},
		},
	}

	// An empty body runs every check without detail.
	w := f.asOwner(t, http.MethodPost, f.botPath("/integrity/verify"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, f.snapshots.gotChecks)
	assert.False(t, f.snapshots.gotDetailed)

	var body struct {
		BotID          uuid.UUID                           `json:"bot_id"`
		Results        map[string]*models.IntegrityResult `json:"results"`
		CriticalIssues int                                 `json:"critical_issues"`
		Passed         bool                                `json:"passed"`
	}
	decodeBody(t, w, &body)
	assert.Equal(t, f.bot.ID, body.BotID)
	assert.Len(t, body.Results, 2)
	assert.Equal(t, 1, body.CriticalIssues)
	assert.False(t, body.Passed)

	t.Run("selected checks pass through", func(t *testing.T) {
		w := f.asOwner(t, http.MethodPost, f.botPath("/integrity/verify"), map[string]any{
			"checks":   []string{models.CheckReferentialIntegrity},
			"detailed": true,
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{models.CheckReferentialIntegrity}, f.snapshots.gotChecks)
		assert.True(t, f.snapshots.gotDetailed)
	})

	t.Run("clean bot passes", func(t *testing.T) {
		f.snapshots.results = map[string]*models.IntegrityResult{
			models.CheckCollectionHealth: {Check: models.CheckCollectionHealth, Passed: true},
		}
		w := f.asOwner(t, http.MethodPost, f.botPath("/integrity/verify"), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			CriticalIssues int  `json:"critical_issues"`
			Passed         bool `json:"passed"`
		}
		decodeBody(t, w, &body)
		assert.Zero(t, body.CriticalIssues)
		assert.True(t, body.Passed)
	})

	t.Run("unknown check name", func(t *testing.T) {
		f.snapshots.verifyErr = models.NewValidationError(`unknown integrity check "chunk_karma"`)
		w := f.asOwner(t, http.MethodPost, f.botPath("/integrity/verify"), map[string]any{
			"checks": []string{"chunk_karma"},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSnapshotHandlers_Rollback_PlanOnly(t *testing.T) {
	f := setupHandlers(t)
	f.snapshots.plan = &models.RollbackPlan{
		SnapshotID: "pre_migration",
		BotID:      f.bot.ID,
		Steps: []models.RollbackStep{
			{Type: models.StepPreRollbackBackup, Description: "create a safety snapshot of the current state"},
			{Type: models.StepVerify, Description: "run core integrity checks against the restored state"},
		},
		Risk: models.RollbackRiskLow,
	}

	w := f.asOwner(t, http.MethodPost, f.botPath("/rollback"), map[string]any{
		"snapshot_id": "pre_migration",
		"plan_only":   true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pre_migration", f.snapshots.gotPlanID)
	assert.Empty(t, f.snapshots.gotExecID)

	var plan models.RollbackPlan
	decodeBody(t, w, &plan)
	assert.Equal(t, "pre_migration", plan.SnapshotID)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, models.StepPreRollbackBackup, plan.Steps[0].Type)
	assert.Equal(t, models.RollbackRiskLow, plan.Risk)
}

func TestSnapshotHandlers_Rollback_Execute(t *testing.T) {
	f := setupHandlers(t)
	f.snapshots.report = &models.RollbackReport{
		SnapshotID: "pre_migration",
		BotID:      f.bot.ID,
		Success:    true,
		Steps: []models.RollbackStepResult{
			{Type: models.StepPreRollbackBackup, Success: true},
			{Type: models.StepVerify, Success: true},
		},
	}

	w := f.asOwner(t, http.MethodPost, f.botPath("/rollback"), map[string]any{
		"snapshot_id": "pre_migration",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pre_migration", f.snapshots.gotExecID)

	var report models.RollbackReport
	decodeBody(t, w, &report)
	assert.True(t, report.Success)
	assert.Len(t, report.Steps, 2)

	t.Run("missing snapshot id", func(t *testing.T) {
		w := f.asOwner(t, http.MethodPost, f.botPath("/rollback"), map[string]any{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("snapshot not found", func(t *testing.T) {
		f.snapshots.execErr = models.NewNotFoundError("snapshot", "ghost")
		w := f.asOwner(t, http.MethodPost, f.botPath("/rollback"), map[string]any{"snapshot_id": "ghost"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("concurrent rollback conflict", func(t *testing.T) {
		f.snapshots.execErr = models.NewConflictError("a rollback is already in progress")
		w := f.asOwner(t, http.MethodPost, f.botPath("/rollback"), map[string]any{"snapshot_id": "pre_migration"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("stranger is rejected", func(t *testing.T) {
		w := f.do(t, http.MethodPost, f.botPath("/rollback"), uuid.NewString(), "user",
			map[string]any{"snapshot_id": "pre_migration"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
