package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/ragforge/models"
)

// SnapshotService captures pre-operation snapshots of a bot's data state,
// verifies structural integrity across the relational store, vector store and
// collection metadata, and rolls a bot back to a snapshot when an operation
// goes wrong.
type SnapshotService interface {
	// CreateSnapshot records the bot's current document/chunk/vector state
	// with checksums and persists it durably.
	CreateSnapshot(ctx context.Context, botID uuid.UUID, operationID string) (*models.Snapshot, error)

	// GetSnapshot loads a snapshot by id, from memory or disk.
	GetSnapshot(ctx context.Context, snapshotID string) (*models.Snapshot, error)

	// ListSnapshots returns the retained snapshots for a bot, newest first.
	ListSnapshots(ctx context.Context, botID uuid.UUID) ([]*models.Snapshot, error)

	// VerifyIntegrity runs the requested checks (all six when checks is
	// empty) with bounded concurrency and returns per-check results.
	VerifyIntegrity(ctx context.Context, botID uuid.UUID, checks []string, detailed bool) (map[string]*models.IntegrityResult, error)

	// PlanRollback enumerates the steps required to restore the bot to the
	// snapshot, with per-step risk levels.
	PlanRollback(ctx context.Context, botID uuid.UUID, snapshotID string) (*models.RollbackPlan, error)

	// ExecuteRollback restores the bot to the snapshot. Only one rollback may
	// run at a time process-wide; a second concurrent call fails with an
	// operation conflict.
	ExecuteRollback(ctx context.Context, botID uuid.UUID, snapshotID string) (*models.RollbackReport, error)

	// PurgeExpired deletes snapshots older than the retention window and
	// returns how many were removed.
	PurgeExpired(ctx context.Context) (int, error)
}
