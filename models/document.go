package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Document is a logical file attached to a bot. ChunkCount is the
// source-of-truth claim and must equal the number of stored chunks.
type Document struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	BotID      uuid.UUID `json:"bot_id" gorm:"type:uuid;not null;index"`
	UploaderID uuid.UUID `json:"uploader_id" gorm:"type:uuid;not null"`
	Filename   string    `json:"filename" gorm:"not null"`
	FilePath   string    `json:"file_path" gorm:"not null"`
	FileSize   int64     `json:"file_size" gorm:"default:0"`
	ChunkCount int       `json:"chunk_count" gorm:"default:0"`
	CreatedAt  time.Time `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"not null;default:now()"`
}

func (Document) TableName() string {
	return "rag_engine.documents"
}

// DocumentChunk is a contiguous text span of a document. EmbeddingID is
// non-empty once the chunk is indexed and keys exactly one vector point.
type DocumentChunk struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	DocumentID  uuid.UUID `json:"document_id" gorm:"type:uuid;not null;index"`
	BotID       uuid.UUID `json:"bot_id" gorm:"type:uuid;not null;index"`
	ChunkIndex  int       `json:"chunk_index" gorm:"not null"`
	Content     string    `json:"content" gorm:"not null"`
	ContentHash string    `json:"content_hash" gorm:"type:varchar(64);index"`
	EmbeddingID string    `json:"embedding_id" gorm:"type:varchar(64)"`
	CreatedAt   time.Time `json:"created_at" gorm:"not null;default:now()"`
}

func (DocumentChunk) TableName() string {
	return "rag_engine.document_chunks"
}

// HashContent returns the dedup key for chunk content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ProcessedChunk is the DocumentProcessor output unit before embedding.
type ProcessedChunk struct {
	Content    string                 `json:"content"`
	ChunkIndex int                    `json:"chunk_index"`
	StartChar  int                    `json:"start_char"`
	EndChar    int                    `json:"end_char"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// RetrievedChunk is a chunk returned by vector search, ready for blending.
type RetrievedChunk struct {
	ID          string                 `json:"id"`
	DocumentID  string                 `json:"document_id"`
	ChunkIndex  int                    `json:"chunk_index"`
	Content     string                 `json:"content"`
	Score       float64                `json:"score"`
	ContentType string                 `json:"content_type,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// RetrievalContext carries the query-shape hints the threshold manager uses.
type RetrievalContext struct {
	Query       string `json:"query"`
	ContentType string `json:"content_type,omitempty"` // technical, conversational, code, legal
	QueryLength int    `json:"query_length"`
}

// RetrievalResult is the adaptive retrieval outcome. Success with zero
// chunks means the full threshold cascade was exhausted without error.
type RetrievalResult struct {
	Success         bool                   `json:"success"`
	Chunks          []RetrievedChunk       `json:"chunks"`
	ThresholdUsed   *float64               `json:"threshold_used,omitempty"`
	ThresholdsTried []*float64             `json:"thresholds_tried"`
	FallbackUsed    bool                   `json:"fallback_used"`
	AttemptsMade    int                    `json:"attempts_made"`
	ProcessingTime  float64                `json:"processing_time"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}
