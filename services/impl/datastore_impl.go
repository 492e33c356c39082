package impl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

type dataStoreImpl struct {
	db *gorm.DB
}

// NewDataStore wraps a gorm connection in the narrow store contracts the
// engine services consume.
func NewDataStore(db *gorm.DB) services.DataStore {
	return &dataStoreImpl{db: db}
}

func (s *dataStoreImpl) GetBot(ctx context.Context, id uuid.UUID) (*models.Bot, error) {
	var bot models.Bot
	if err := s.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", id).First(&bot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("bot", id.String())
		}
		return nil, fmt.Errorf("failed to get bot: %w", err)
	}
	return &bot, nil
}

func (s *dataStoreImpl) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("user", id.String())
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (s *dataStoreImpl) GetKey(ctx context.Context, userID uuid.UUID, provider string) (*models.UserAPIKey, error) {
	var key models.UserAPIKey
	if err := s.db.WithContext(ctx).Where("user_id = ? AND provider = ?", userID, provider).First(&key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewAPIKeyError(provider, models.APIKeyErrorNotFound,
				fmt.Sprintf("no %s api key stored for user %s", provider, userID), nil)
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return &key, nil
}

func (s *dataStoreImpl) UpsertKey(ctx context.Context, key *models.UserAPIKey) error {
	var existing models.UserAPIKey
	err := s.db.WithContext(ctx).Where("user_id = ? AND provider = ?", key.UserID, key.Provider).First(&existing).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to look up api key: %w", err)
		}
		if key.ID == uuid.Nil {
			key.ID = uuid.New()
		}
		key.CreatedAt = time.Now()
		key.UpdatedAt = key.CreatedAt
		if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
			return fmt.Errorf("failed to store api key: %w", err)
		}
		return nil
	}

	existing.APIKey = key.APIKey
	existing.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}
	*key = existing
	return nil
}

func (s *dataStoreImpl) DeleteKey(ctx context.Context, userID uuid.UUID, provider string) error {
	result := s.db.WithContext(ctx).Where("user_id = ? AND provider = ?", userID, provider).Delete(&models.UserAPIKey{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete api key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.NewNotFoundError("api_key", provider)
	}
	return nil
}

func (s *dataStoreImpl) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	var doc models.Document
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("document", id.String())
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (s *dataStoreImpl) ListDocuments(ctx context.Context, botID uuid.UUID) ([]models.Document, error) {
	var docs []models.Document
	if err := s.db.WithContext(ctx).Where("bot_id = ?", botID).Order("created_at ASC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

func (s *dataStoreImpl) CountDocuments(ctx context.Context, botID uuid.UUID) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Document{}).Where("bot_id = ?", botID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return int(count), nil
}

func (s *dataStoreImpl) UpdateChunkCount(ctx context.Context, documentID uuid.UUID, count int) error {
	result := s.db.WithContext(ctx).Model(&models.Document{}).Where("id = ?", documentID).
		Updates(map[string]interface{}{"chunk_count": count, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to update chunk count: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.NewNotFoundError("document", documentID.String())
	}
	return nil
}

func (s *dataStoreImpl) ResetChunkCounts(ctx context.Context, botID uuid.UUID) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.Document{}).Where("bot_id = ?", botID).
		Updates(map[string]interface{}{"chunk_count": 0, "updated_at": time.Now()})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset chunk counts: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *dataStoreImpl) ListChunks(ctx context.Context, documentID uuid.UUID) ([]models.DocumentChunk, error) {
	var chunks []models.DocumentChunk
	if err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Order("chunk_index ASC").Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return chunks, nil
}

func (s *dataStoreImpl) InsertChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(chunks, 100).Error; err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}
	return nil
}

func (s *dataStoreImpl) DeleteChunksByDocument(ctx context.Context, documentID uuid.UUID) (int64, error) {
	result := s.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&models.DocumentChunk{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *dataStoreImpl) DeleteChunksByBot(ctx context.Context, botID uuid.UUID) (int64, error) {
	result := s.db.WithContext(ctx).Where("bot_id = ?", botID).Delete(&models.DocumentChunk{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete bot chunks: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *dataStoreImpl) CountChunks(ctx context.Context, botID uuid.UUID) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.DocumentChunk{}).Where("bot_id = ?", botID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

func (s *dataStoreImpl) CountsByDocument(ctx context.Context, botID uuid.UUID) (map[uuid.UUID]int, error) {
	type row struct {
		DocumentID uuid.UUID
		N          int
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.DocumentChunk{}).
		Select("document_id, count(*) as n").
		Where("bot_id = ?", botID).
		Group("document_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks per document: %w", err)
	}
	counts := make(map[uuid.UUID]int, len(rows))
	for _, r := range rows {
		counts[r.DocumentID] = r.N
	}
	return counts, nil
}

func (s *dataStoreImpl) MissingEmbeddingCount(ctx context.Context, botID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.DocumentChunk{}).
		Where("bot_id = ? AND (embedding_id IS NULL OR embedding_id = '')", botID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unembedded chunks: %w", err)
	}
	return count, nil
}

func (s *dataStoreImpl) OrphanCount(ctx context.Context, botID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.DocumentChunk{}).
		Joins("LEFT JOIN rag_engine.documents d ON d.id = document_chunks.document_id").
		Where("document_chunks.bot_id = ? AND d.id IS NULL", botID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count orphan chunks: %w", err)
	}
	return count, nil
}

func (s *dataStoreImpl) TotalContentChars(ctx context.Context, botID uuid.UUID) (int64, error) {
	var total *int64
	err := s.db.WithContext(ctx).Model(&models.DocumentChunk{}).
		Select("sum(length(content))").
		Where("bot_id = ?", botID).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum chunk content: %w", err)
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

func (s *dataStoreImpl) GetCollectionMeta(ctx context.Context, botID uuid.UUID) (*models.CollectionMetadata, error) {
	var meta models.CollectionMetadata
	if err := s.db.WithContext(ctx).Where("bot_id = ?", botID).First(&meta).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("collection_metadata", botID.String())
		}
		return nil, fmt.Errorf("failed to get collection metadata: %w", err)
	}
	return &meta, nil
}

func (s *dataStoreImpl) UpsertCollectionMeta(ctx context.Context, meta *models.CollectionMetadata) error {
	var existing models.CollectionMetadata
	err := s.db.WithContext(ctx).Where("bot_id = ?", meta.BotID).First(&existing).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to look up collection metadata: %w", err)
		}
		if meta.ID == uuid.Nil {
			meta.ID = uuid.New()
		}
		meta.CreatedAt = time.Now()
		meta.UpdatedAt = meta.CreatedAt
		if err := s.db.WithContext(ctx).Create(meta).Error; err != nil {
			return fmt.Errorf("failed to create collection metadata: %w", err)
		}
		return nil
	}

	existing.CollectionName = meta.CollectionName
	existing.EmbeddingProvider = meta.EmbeddingProvider
	existing.EmbeddingModel = meta.EmbeddingModel
	existing.EmbeddingDimension = meta.EmbeddingDimension
	existing.Status = meta.Status
	existing.PointsCount = meta.PointsCount
	existing.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return fmt.Errorf("failed to update collection metadata: %w", err)
	}
	*meta = existing
	return nil
}

func (s *dataStoreImpl) UpdatePointsCount(ctx context.Context, botID uuid.UUID, count int64) error {
	result := s.db.WithContext(ctx).Model(&models.CollectionMetadata{}).Where("bot_id = ?", botID).
		Updates(map[string]interface{}{"points_count": count, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to update points count: %w", result.Error)
	}
	return nil
}

func (s *dataStoreImpl) UpdateCollectionStatus(ctx context.Context, botID uuid.UUID, status models.CollectionStatus) error {
	result := s.db.WithContext(ctx).Model(&models.CollectionMetadata{}).Where("bot_id = ?", botID).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to update collection status: %w", result.Error)
	}
	return nil
}

func (s *dataStoreImpl) InsertPerformanceLog(ctx context.Context, entry *models.ThresholdPerformanceLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to insert performance log: %w", err)
	}
	return nil
}

func (s *dataStoreImpl) ListPerformanceLogs(ctx context.Context, botID uuid.UUID, provider, model string, since time.Time) ([]models.ThresholdPerformanceLog, error) {
	query := s.db.WithContext(ctx).Where("bot_id = ? AND provider = ? AND created_at >= ?", botID, provider, since)
	if model != "" {
		query = query.Where("model = ?", model)
	}
	var logs []models.ThresholdPerformanceLog
	if err := query.Order("created_at ASC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list performance logs: %w", err)
	}
	return logs, nil
}
