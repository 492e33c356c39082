package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Snapshot is an immutable record of a bot's data state captured before a
// destructive operation. Stored as JSON at snapshots/{id}.json and cached in
// memory; retained at least the configured number of days.
type Snapshot struct {
	SnapshotID        string            `json:"snapshot_id"`
	BotID             uuid.UUID         `json:"bot_id"`
	CreatedAt         time.Time         `json:"created_at"`
	DocumentCount     int               `json:"document_count"`
	ChunkCount        int               `json:"chunk_count"`
	VectorCount       int64             `json:"vector_count"`
	CollectionConfig  *CollectionConfig `json:"collection_config,omitempty"`
	DocumentChecksums map[string]string `json:"document_checksums"`
	// ChunkChecksums samples at most 1000 chunks, keyed by chunk id.
	ChunkChecksums map[string]string `json:"chunk_checksums"`
}

// DocumentChecksum computes the canonical per-document checksum:
// sha256 over "id|filename|size|chunk_count".
func DocumentChecksum(d *Document) string {
	payload := fmt.Sprintf("%s|%s|%d|%d", d.ID, d.Filename, d.FileSize, d.ChunkCount)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// IntegrityLevel grades a single issue.
type IntegrityLevel string

const (
	IntegrityCritical IntegrityLevel = "CRITICAL"
	IntegrityWarning  IntegrityLevel = "WARNING"
	IntegrityInfo     IntegrityLevel = "INFO"
)

// Names of the six integrity checks.
const (
	CheckDocumentChunkConsistency      = "document_chunk_consistency"
	CheckVectorStoreConsistency        = "vector_store_consistency"
	CheckEmbeddingDimensionConsistency = "embedding_dimension_consistency"
	CheckMetadataConsistency           = "metadata_consistency"
	CheckReferentialIntegrity          = "referential_integrity"
	CheckCollectionHealth              = "collection_health"
)

// AllIntegrityChecks lists every check in execution order.
var AllIntegrityChecks = []string{
	CheckDocumentChunkConsistency,
	CheckVectorStoreConsistency,
	CheckEmbeddingDimensionConsistency,
	CheckMetadataConsistency,
	CheckReferentialIntegrity,
	CheckCollectionHealth,
}

// CoreIntegrityChecks is the subset used for post-rollback verification.
var CoreIntegrityChecks = []string{
	CheckDocumentChunkConsistency,
	CheckReferentialIntegrity,
	CheckCollectionHealth,
}

// IntegrityIssue is one finding from a check.
type IntegrityIssue struct {
	Level      IntegrityLevel `json:"level"`
	Message    string         `json:"message"`
	DocumentID *uuid.UUID     `json:"document_id,omitempty"`
	ChunkID    *uuid.UUID     `json:"chunk_id,omitempty"`
}

// IntegrityResult is the outcome of one named check. Passed is true iff no
// CRITICAL issues were produced.
type IntegrityResult struct {
	Check    string           `json:"check"`
	Passed   bool             `json:"passed"`
	Issues   []IntegrityIssue `json:"issues"`
	Duration float64          `json:"duration_seconds"`
}

// CriticalCount tallies CRITICAL issues.
func (r *IntegrityResult) CriticalCount() int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Level == IntegrityCritical {
			n++
		}
	}
	return n
}

// RollbackStepType names the ordered actions of a rollback plan.
type RollbackStepType string

const (
	StepPreRollbackBackup RollbackStepType = "pre_rollback_backup"
	StepDropCollection    RollbackStepType = "drop_collection"
	StepDeleteChunks      RollbackStepType = "delete_chunks"
	StepResetChunkCounts  RollbackStepType = "reset_chunk_counts"
	StepRestoreMetadata   RollbackStepType = "restore_metadata"
	StepVerify            RollbackStepType = "verify"
)

// RollbackRisk grades the overall destructiveness of a plan.
type RollbackRisk string

const (
	RollbackRiskLow    RollbackRisk = "low"
	RollbackRiskMedium RollbackRisk = "medium"
	RollbackRiskHigh   RollbackRisk = "high"
)

// RollbackStep is one planned action.
type RollbackStep struct {
	Type        RollbackStepType `json:"type"`
	Description string           `json:"description"`
}

// RollbackPlan enumerates the steps to restore a bot to a snapshot.
type RollbackPlan struct {
	SnapshotID string         `json:"snapshot_id"`
	BotID      uuid.UUID      `json:"bot_id"`
	Steps      []RollbackStep `json:"steps"`
	Risk       RollbackRisk   `json:"risk"`
	CreatedAt  time.Time      `json:"created_at"`
}

// RollbackStepResult records one executed step.
type RollbackStepResult struct {
	Type      RollbackStepType `json:"type"`
	Success   bool             `json:"success"`
	Error     string           `json:"error,omitempty"`
	Recovered bool             `json:"recovered,omitempty"`
	Duration  float64          `json:"duration_seconds"`
}

// RollbackReport is the terminal record of a rollback execution.
type RollbackReport struct {
	SnapshotID         string                      `json:"snapshot_id"`
	BotID              uuid.UUID                   `json:"bot_id"`
	Success            bool                        `json:"success"`
	Steps              []RollbackStepResult        `json:"steps"`
	PreRollbackBackup  string                      `json:"pre_rollback_backup,omitempty"`
	VerificationResult map[string]*IntegrityResult `json:"verification_result,omitempty"`
	StartedAt          time.Time                   `json:"started_at"`
	CompletedAt        time.Time                   `json:"completed_at"`
	Duration           float64                     `json:"duration_seconds"`
}
