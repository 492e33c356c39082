package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/ragforge/models"
)

// QueueService schedules reprocessing operations across four priority levels
// with a global concurrency cap, per-operation timeouts and queue statistics.
type QueueService interface {
	// Enqueue registers a reprocessing operation and returns a receipt with
	// its id, queue position and time estimates. A full queue or duplicate
	// operation id yields an operation conflict.
	Enqueue(ctx context.Context, botID uuid.UUID, userID uuid.UUID, opts models.ReprocessOptions, priority models.OperationPriority) (*models.EnqueueReceipt, error)

	// GetOperation returns live progress and, once the operation is terminal,
	// its report.
	GetOperation(operationID string) (*models.OperationProgress, *models.ReprocessReport, bool)

	// Cancel removes a queued operation or signals a running one to stop.
	Cancel(operationID string) error

	// Status returns queue depths with previews, running operations and
	// statistics.
	Status() models.QueueSnapshot

	// Pause stops dequeuing new work; running operations continue.
	Pause()

	// Resume restarts dequeuing after a pause.
	Resume()

	// Shutdown cancels all running operations and stops the scheduler,
	// blocking until workers exit or the context expires.
	Shutdown(ctx context.Context) error
}
