package domain

import (
	"time"

	"github.com/google/uuid"
)

// ImageJobStatus - состояние одной попытки генерации.
type ImageJobStatus string

const (
	ImageJobStatusQueued    ImageJobStatus = "QUEUED"
	ImageJobStatusRunning   ImageJobStatus = "RUNNING"
	ImageJobStatusSuccess   ImageJobStatus = "SUCCESS"
	ImageJobStatusFailed    ImageJobStatus = "FAILED"
	ImageJobStatusCancelled ImageJobStatus = "CANCELLED"
)

// ImageJob - запись аудита одной попытки генерации для страницы.
// На состояние страницы не влияет.
type ImageJob struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	PageID          uuid.UUID      `json:"page_id" db:"page_id"`
	Attempt         int            `json:"attempt" db:"attempt"`
	Provider        string         `json:"provider" db:"provider"`
	RequestPayload  map[string]any `json:"request_payload" db:"request_payload"`
	ResponsePayload map[string]any `json:"response_payload" db:"response_payload"`
	Status          ImageJobStatus `json:"status" db:"status"`
	LatencyMs       *int64         `json:"latency_ms,omitempty" db:"latency_ms"`
	CostCents       *int64         `json:"cost_cents,omitempty" db:"cost_cents"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty" db:"finished_at"`
}
