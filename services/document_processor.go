package services

import (
	"context"

	"github.com/ragforge/models"
)

// ProcessMeta summarizes one processing run.
type ProcessMeta struct {
	ChunkCount int                    `json:"chunk_count"`
	TotalChars int                    `json:"total_chars"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// DocumentProcessor splits raw document bytes into retrieval chunks.
type DocumentProcessor interface {
	Process(ctx context.Context, data []byte, filename string, documentID string) ([]models.ProcessedChunk, *ProcessMeta, error)
}
