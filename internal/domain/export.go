package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExportStatus - состояние экспорта в PDF.
type ExportStatus string

const (
	ExportStatusPending ExportStatus = "PENDING"
	ExportStatusReady   ExportStatus = "READY"
	ExportStatusError   ExportStatus = "ERROR"
)

// Export - один PDF артефакт для истории и стиля отрисовки.
type Export struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	StoryID   uuid.UUID      `json:"story_id" db:"story_id"`
	Artifact  string         `json:"artifact,omitempty" db:"artifact"`
	PageSize  string         `json:"page_size" db:"page_size"`
	DPI       int            `json:"dpi" db:"dpi"`
	Status    ExportStatus   `json:"status" db:"status"`
	Meta      map[string]any `json:"meta" db:"meta"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}
