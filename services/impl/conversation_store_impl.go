package impl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

const (
	conversationKeyPrefix = "conversation"
	conversationMaxTurns  = 50
	conversationTTL       = 24 * time.Hour
)

// conversationStoreImpl keeps a rolling per-(bot, user) turn buffer in redis.
// The buffer feeds the query analyzer's depth and follow-up detection.
type conversationStoreImpl struct {
	redis *redis.Client
}

func NewConversationStore(redisClient *redis.Client) services.ConversationStore {
	return &conversationStoreImpl{redis: redisClient}
}

func (s *conversationStoreImpl) conversationKey(botID, userID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", conversationKeyPrefix, botID.String(), userID.String())
}

func (s *conversationStoreImpl) AppendTurn(ctx context.Context, botID uuid.UUID, userID uuid.UUID, turn models.ConversationTurn) error {
	if s.redis == nil {
		return nil
	}
	key := s.conversationKey(botID, userID)

	turns, err := s.load(ctx, key)
	if err != nil {
		return err
	}

	turns = append(turns, turn)
	if len(turns) > conversationMaxTurns {
		turns = turns[len(turns)-conversationMaxTurns:]
	}

	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	if err := s.redis.Set(ctx, key, data, conversationTTL).Err(); err != nil {
		return fmt.Errorf("failed to store conversation: %w", err)
	}
	return nil
}

func (s *conversationStoreImpl) RecentTurns(ctx context.Context, botID uuid.UUID, userID uuid.UUID, limit int) ([]models.ConversationTurn, error) {
	if s.redis == nil {
		return nil, nil
	}
	turns, err := s.load(ctx, s.conversationKey(botID, userID))
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (s *conversationStoreImpl) load(ctx context.Context, key string) ([]models.ConversationTurn, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return []models.ConversationTurn{}, nil
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	var turns []models.ConversationTurn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return turns, nil
}
