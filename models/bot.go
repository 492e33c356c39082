package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type CollectionStatus string

const (
	CollectionStatusInactive  CollectionStatus = "inactive"
	CollectionStatusActive    CollectionStatus = "active"
	CollectionStatusMigrating CollectionStatus = "migrating"
)

// Bot is a tenant workspace owning a document corpus and a vector collection.
type Bot struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OwnerID     uuid.UUID `json:"owner_id" gorm:"type:uuid;not null;index"`
	Name        string    `json:"name" gorm:"not null"`
	Description string    `json:"description"`

	EmbeddingProvider string `json:"embedding_provider" gorm:"type:varchar(50);not null"`
	EmbeddingModel    string `json:"embedding_model" gorm:"type:varchar(100);not null"`
	LLMProvider       string `json:"llm_provider" gorm:"type:varchar(50);not null"`
	LLMModel          string `json:"llm_model" gorm:"type:varchar(100);not null"`

	SystemPrompt string `json:"system_prompt"`

	// RetrievalSettings holds optional per-bot retrieval overrides as JSONB.
	RetrievalSettings datatypes.JSON `json:"retrieval_settings,omitempty" gorm:"type:jsonb"`

	CreatedAt time.Time  `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null;default:now()"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" gorm:"index"`
}

func (Bot) TableName() string {
	return "rag_engine.bots"
}

// RetrievalSettings are the tunable retrieval overrides an owner can pin on a
// bot. Zero values defer to the adaptive defaults.
type RetrievalSettings struct {
	CustomThreshold *float64 `json:"custom_threshold,omitempty"`
	ContentType     string   `json:"content_type,omitempty"` // technical, conversational, code, legal
	MaxChunks       int      `json:"max_chunks,omitempty"`
}

// DecodedRetrievalSettings returns the bot's overrides, or nil when unset or
// unreadable.
func (b *Bot) DecodedRetrievalSettings() *RetrievalSettings {
	if len(b.RetrievalSettings) == 0 {
		return nil
	}
	var s RetrievalSettings
	if err := ConvertFromJSON(b.RetrievalSettings, &s); err != nil {
		return nil
	}
	return &s
}

// CollectionConfig describes the vector collection a bot's chunks live in.
type CollectionConfig struct {
	EmbeddingProvider  string `json:"embedding_provider"`
	EmbeddingModel     string `json:"embedding_model"`
	EmbeddingDimension int    `json:"embedding_dimension"`
	Distance           string `json:"distance,omitempty"` // cosine by default
}

func (c CollectionConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *CollectionConfig) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return json.Unmarshal([]byte(value.(string)), c)
	}

	return json.Unmarshal(bytes, c)
}

// CollectionMetadata is the per-bot vector index descriptor. Status active
// asserts that provider/model/dimension agree with both the bot row and the
// live collection.
type CollectionMetadata struct {
	ID                 uuid.UUID        `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	BotID              uuid.UUID        `json:"bot_id" gorm:"type:uuid;not null;uniqueIndex"`
	CollectionName     string           `json:"collection_name" gorm:"type:varchar(255);not null"`
	EmbeddingProvider  string           `json:"embedding_provider" gorm:"type:varchar(50);not null"`
	EmbeddingModel     string           `json:"embedding_model" gorm:"type:varchar(100);not null"`
	EmbeddingDimension int              `json:"embedding_dimension" gorm:"not null"`
	Status             CollectionStatus `json:"status" gorm:"type:varchar(20);not null;default:'inactive'"`
	PointsCount        int64            `json:"points_count" gorm:"default:0"`
	CreatedAt          time.Time        `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt          time.Time        `json:"updated_at" gorm:"not null;default:now()"`
}

func (CollectionMetadata) TableName() string {
	return "rag_engine.collection_metadata"
}

// Config extracts the collection configuration view of the metadata row.
func (m *CollectionMetadata) Config() CollectionConfig {
	return CollectionConfig{
		EmbeddingProvider:  m.EmbeddingProvider,
		EmbeddingModel:     m.EmbeddingModel,
		EmbeddingDimension: m.EmbeddingDimension,
	}
}
