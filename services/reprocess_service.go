package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/ragforge/models"
)

// ReprocessService re-chunks, re-embeds and re-indexes a bot's full document
// corpus through the phased pipeline: init, backup, processing, integrity,
// cleanup.
type ReprocessService interface {
	// Run executes the pipeline synchronously and returns the terminal
	// report. The queue manager invokes it inside a worker; callers wanting
	// async behavior go through the queue.
	Run(ctx context.Context, operationID string, botID uuid.UUID, userID uuid.UUID, opts models.ReprocessOptions) (*models.ReprocessReport, error)

	// Progress reports the live progress for a registered operation.
	Progress(operationID string) (*models.OperationProgress, bool)

	// Register initializes progress tracking for an operation before its
	// worker starts, so status polls succeed immediately after enqueue.
	Register(operationID string, botID uuid.UUID, totalDocuments int)
}
