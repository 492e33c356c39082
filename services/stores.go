package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ragforge/models"
)

// Narrow persistence contracts consumed by the engine services. The gorm
// implementations live in services/impl; tests substitute in-memory fakes.

type BotStore interface {
	GetBot(ctx context.Context, id uuid.UUID) (*models.Bot, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type APIKeyStore interface {
	GetKey(ctx context.Context, userID uuid.UUID, provider string) (*models.UserAPIKey, error)
	UpsertKey(ctx context.Context, key *models.UserAPIKey) error
	DeleteKey(ctx context.Context, userID uuid.UUID, provider string) error
}

type DocumentStore interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
	ListDocuments(ctx context.Context, botID uuid.UUID) ([]models.Document, error)
	CountDocuments(ctx context.Context, botID uuid.UUID) (int, error)
	UpdateChunkCount(ctx context.Context, documentID uuid.UUID, count int) error
	// ResetChunkCounts zeroes chunk_count on every document of the bot and
	// returns how many rows changed. Used by rollback.
	ResetChunkCounts(ctx context.Context, botID uuid.UUID) (int64, error)
}

type ChunkStore interface {
	ListChunks(ctx context.Context, documentID uuid.UUID) ([]models.DocumentChunk, error)
	InsertChunks(ctx context.Context, chunks []models.DocumentChunk) error
	DeleteChunksByDocument(ctx context.Context, documentID uuid.UUID) (int64, error)
	DeleteChunksByBot(ctx context.Context, botID uuid.UUID) (int64, error)
	CountChunks(ctx context.Context, botID uuid.UUID) (int64, error)
	// CountsByDocument returns per-document chunk counts for the bot.
	CountsByDocument(ctx context.Context, botID uuid.UUID) (map[uuid.UUID]int, error)
	// MissingEmbeddingCount counts chunks with an empty embedding id.
	MissingEmbeddingCount(ctx context.Context, botID uuid.UUID) (int64, error)
	// OrphanCount counts chunks whose document row no longer exists.
	OrphanCount(ctx context.Context, botID uuid.UUID) (int64, error)
	// TotalContentChars sums content length over the bot's chunks, for
	// average-document-length estimation.
	TotalContentChars(ctx context.Context, botID uuid.UUID) (int64, error)
}

type CollectionStore interface {
	GetCollectionMeta(ctx context.Context, botID uuid.UUID) (*models.CollectionMetadata, error)
	UpsertCollectionMeta(ctx context.Context, meta *models.CollectionMetadata) error
	UpdatePointsCount(ctx context.Context, botID uuid.UUID, count int64) error
	UpdateCollectionStatus(ctx context.Context, botID uuid.UUID, status models.CollectionStatus) error
}

type PerformanceLogStore interface {
	InsertPerformanceLog(ctx context.Context, entry *models.ThresholdPerformanceLog) error
	ListPerformanceLogs(ctx context.Context, botID uuid.UUID, provider, model string, since time.Time) ([]models.ThresholdPerformanceLog, error)
}

// FileSource reads stored document bytes for reprocessing.
type FileSource interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// DataStore bundles the relational stores for wiring.
type DataStore interface {
	BotStore
	UserStore
	APIKeyStore
	DocumentStore
	ChunkStore
	CollectionStore
	PerformanceLogStore
}
