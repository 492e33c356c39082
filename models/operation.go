package models

import (
	"time"

	"github.com/google/uuid"
)

// OperationPriority orders the four FIFO sub-queues.
type OperationPriority int

const (
	PriorityLow OperationPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p OperationPriority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityUrgent:
		return "URGENT"
	default:
		return "UNKNOWN"
	}
}

// ParsePriority maps a wire name to a priority, defaulting to NORMAL.
func ParsePriority(s string) OperationPriority {
	switch s {
	case "LOW", "low":
		return PriorityLow
	case "HIGH", "high":
		return PriorityHigh
	case "URGENT", "urgent":
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

// OperationStatus is the lifecycle state of a reprocessing request.
type OperationStatus string

const (
	OperationQueued    OperationStatus = "QUEUED"
	OperationRunning   OperationStatus = "RUNNING"
	OperationCompleted OperationStatus = "COMPLETED"
	OperationFailed    OperationStatus = "FAILED"
	OperationCancelled OperationStatus = "CANCELLED"
)

// ReprocessPhase is the strictly ordered stage of a running operation.
type ReprocessPhase string

const (
	PhaseInit       ReprocessPhase = "init"
	PhaseBackup     ReprocessPhase = "backup"
	PhaseProcessing ReprocessPhase = "processing"
	PhaseIntegrity  ReprocessPhase = "integrity"
	PhaseCleanup    ReprocessPhase = "cleanup"
	PhaseDone       ReprocessPhase = "done"
)

// ReprocessOptions configures one reprocessing request.
type ReprocessOptions struct {
	BatchSize               int  `json:"batch_size,omitempty"`
	ForceRecreateCollection bool `json:"force_recreate_collection,omitempty"`
	EnableRollback          bool `json:"enable_rollback"`
}

// DefaultReprocessOptions returns the documented defaults.
func DefaultReprocessOptions() ReprocessOptions {
	return ReprocessOptions{
		BatchSize:      10,
		EnableRollback: true,
	}
}

// OperationProgress is the live, pollable state of an operation.
type OperationProgress struct {
	OperationID   string            `json:"operation_id"`
	BotID         uuid.UUID         `json:"bot_id"`
	RequestedBy   uuid.UUID         `json:"requested_by"`
	Status        OperationStatus   `json:"status"`
	Phase         ReprocessPhase    `json:"phase"`
	Priority      OperationPriority `json:"priority"`
	TotalDocs     int               `json:"total_documents"`
	ProcessedDocs int               `json:"processed_documents"`
	SuccessfulDocs int              `json:"successful_documents"`
	FailedDocs    int               `json:"failed_documents"`
	CurrentBatch  int               `json:"current_batch"`
	TotalBatches  int               `json:"total_batches"`
	QueuedAt      time.Time         `json:"queued_at"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	Options       ReprocessOptions  `json:"options"`
}

// DocumentResult is one document's terminal outcome within an operation.
type DocumentResult struct {
	DocumentID      uuid.UUID `json:"document_id"`
	Filename        string    `json:"filename"`
	Success         bool      `json:"success"`
	ChunksProcessed int       `json:"chunks_processed"`
	ChunksStored    int       `json:"chunks_stored"`
	Attempts        int       `json:"attempts"`
	Error           string    `json:"error,omitempty"`
	ErrorType       string    `json:"error_type,omitempty"` // processing_error, embedding_error, storage_error
	Duration        float64   `json:"duration_seconds"`
}

// OperationError is one entry of a report's error list.
type OperationError struct {
	DocumentID uuid.UUID `json:"document_id"`
	ErrorType  string    `json:"error_type"`
	Error      string    `json:"error"`
}

// ReprocessReport is the terminal record of one operation.
type ReprocessReport struct {
	OperationID       string           `json:"operation_id"`
	BotID             uuid.UUID        `json:"bot_id"`
	Status            OperationStatus  `json:"status"`
	TotalDocuments    int              `json:"total_documents"`
	SuccessfulDocs    int              `json:"successful_documents"`
	FailedDocs        int              `json:"failed_documents"`
	CancelledDocs     int              `json:"cancelled_documents"`
	ChunksProcessed   int              `json:"total_chunks_processed"`
	ChunksStored      int              `json:"total_chunks_stored"`
	DocumentResults   []DocumentResult `json:"document_results"`
	Errors            []OperationError `json:"errors"`
	IntegrityVerified bool             `json:"integrity_verified"`
	RollbackPerformed bool             `json:"rollback_performed"`
	TimedOut          bool             `json:"timed_out,omitempty"`
	StartedAt         time.Time        `json:"started_at"`
	CompletedAt       time.Time        `json:"completed_at"`
	Duration          float64          `json:"duration_seconds"`
}

// ReprocessCheckpoint is the durable resume record written every
// checkpoint_interval batches to checkpoints/{operation_id}.json.
type ReprocessCheckpoint struct {
	OperationID   string         `json:"operation_id"`
	BotID         uuid.UUID      `json:"bot_id"`
	Phase         ReprocessPhase `json:"phase"`
	ProcessedIDs  []uuid.UUID    `json:"processed_ids"`
	FailedIDs     []uuid.UUID    `json:"failed_ids"`
	CurrentBatch  int            `json:"current_batch"`
	TotalBatches  int            `json:"total_batches"`
	BackupCreated bool           `json:"backup_created"`
	WrittenAt     time.Time      `json:"written_at"`
}

// BackupRecord is the minimal fallback backup written to
// backups/{operation_id}.json when full snapshot creation fails.
type BackupRecord struct {
	OperationID      string            `json:"operation_id"`
	BotID            uuid.UUID         `json:"bot_id"`
	SnapshotID       string            `json:"snapshot_id,omitempty"`
	Minimal          bool              `json:"minimal"`
	DocumentCount    int               `json:"document_count"`
	ChunkCount       int               `json:"chunk_count"`
	VectorCount      int64             `json:"vector_count"`
	CollectionConfig *CollectionConfig `json:"collection_config,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// EnqueueReceipt is returned when an operation is accepted into the queue.
// Estimates are seconds; EstimatedWait covers time until the operation
// starts, EstimatedDuration covers the processing itself.
type EnqueueReceipt struct {
	OperationID       string            `json:"operation_id"`
	BotID             uuid.UUID         `json:"bot_id"`
	Priority          OperationPriority `json:"priority"`
	QueuePosition     int               `json:"queue_position"`
	EstimatedWait     float64           `json:"estimated_wait_seconds"`
	EstimatedDuration float64           `json:"estimated_duration_seconds"`
}

// QueueStatus is the scheduler's global state.
type QueueStatus string

const (
	QueueStatusActive       QueueStatus = "ACTIVE"
	QueueStatusPaused       QueueStatus = "PAUSED"
	QueueStatusShuttingDown QueueStatus = "SHUTTING_DOWN"
)

// QueueStatistics is refreshed on every scheduler tick.
type QueueStatistics struct {
	TotalOperations     int64   `json:"total_operations"`
	QueuedOperations    int     `json:"queued_operations"`
	RunningOperations   int     `json:"running_operations"`
	CompletedOperations int64   `json:"completed_operations"`
	FailedOperations    int64   `json:"failed_operations"`
	CancelledOperations int64   `json:"cancelled_operations"`
	AvgProcessingTime   float64 `json:"avg_processing_time_seconds"`
	AvgWaitTime         float64 `json:"avg_wait_time_seconds"`
	Utilization         float64 `json:"utilization"`
}

// QueuedOperationPreview is a queue-depth listing item.
type QueuedOperationPreview struct {
	OperationID string            `json:"operation_id"`
	BotID       uuid.UUID         `json:"bot_id"`
	Priority    OperationPriority `json:"priority"`
	QueuedAt    time.Time         `json:"queued_at"`
}

// RunningOperationInfo describes one in-flight operation.
type RunningOperationInfo struct {
	OperationID string         `json:"operation_id"`
	BotID       uuid.UUID      `json:"bot_id"`
	Phase       ReprocessPhase `json:"phase"`
	StartedAt   time.Time      `json:"started_at"`
	Elapsed     float64        `json:"elapsed_seconds"`
}

// QueueSnapshot is the full status API payload.
type QueueSnapshot struct {
	Status     QueueStatus                          `json:"queue_status"`
	Depths     map[string]int                       `json:"queue_depths"`
	Previews   map[string][]QueuedOperationPreview  `json:"queue_previews"`
	Running    []RunningOperationInfo               `json:"running_operations"`
	Statistics QueueStatistics                      `json:"statistics"`
}
