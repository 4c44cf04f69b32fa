package repository

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
)

const (
	imageJobColumns = `id, page_id, attempt, provider, request_payload, response_payload, status,
		latency_ms, cost_cents, created_at, finished_at`
	insertImageJobQuery = `
		INSERT INTO image_jobs (id, page_id, attempt, provider, request_payload, response_payload, status, latency_ms, cost_cents, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`
	updateImageJobQuery = `
		UPDATE image_jobs
		SET response_payload = $2, status = $3, latency_ms = $4, cost_cents = $5, finished_at = $6, request_payload = $7
		WHERE id = $1`
	listImageJobsQuery = `SELECT ` + imageJobColumns + ` FROM image_jobs WHERE page_id = $1 ORDER BY attempt, created_at`

	exportColumns     = `id, story_id, artifact, page_size, dpi, status, meta, created_at`
	insertExportQuery = `
		INSERT INTO exports (id, story_id, artifact, page_size, dpi, status, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`
	updateExportQuery = `UPDATE exports SET artifact = $2, status = $3, meta = $4 WHERE id = $1`
	getExportQuery    = `SELECT ` + exportColumns + ` FROM exports WHERE id = $1`
	listExportsQuery  = `SELECT ` + exportColumns + ` FROM exports WHERE story_id = $1 ORDER BY created_at`
)

func (s *PostgresStore) CreateImageJob(ctx context.Context, job *domain.ImageJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, insertImageJobQuery,
		job.ID, job.PageID, job.Attempt, job.Provider, nonNil(job.RequestPayload), nonNil(job.ResponsePayload),
		job.Status, job.LatencyMs, job.CostCents, job.FinishedAt,
	).Scan(&job.CreatedAt)
	if err != nil {
		s.logger.Error("Failed to insert image job",
			zap.String("page_id", job.PageID.String()), zap.Int("attempt", job.Attempt), zap.Error(err))
		return fmt.Errorf("failed to insert image job: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateImageJob(ctx context.Context, job *domain.ImageJob) error {
	tag, err := s.pool.Exec(ctx, updateImageJobQuery,
		job.ID, nonNil(job.ResponsePayload), job.Status, job.LatencyMs, job.CostCents, job.FinishedAt, nonNil(job.RequestPayload),
	)
	if err != nil {
		s.logger.Error("Failed to update image job", zap.String("job_id", job.ID.String()), zap.Error(err))
		return fmt.Errorf("failed to update image job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: image job %s", domain.ErrNotFound, job.ID)
	}
	return nil
}

func (s *PostgresStore) ListImageJobs(ctx context.Context, pageID uuid.UUID) ([]*domain.ImageJob, error) {
	var jobs []*domain.ImageJob
	if err := pgxscan.Select(ctx, s.pool, &jobs, listImageJobsQuery, pageID); err != nil {
		return nil, fmt.Errorf("failed to list image jobs for page %s: %w", pageID, err)
	}
	return jobs, nil
}

func (s *PostgresStore) CreateExport(ctx context.Context, export *domain.Export) error {
	if export.ID == uuid.Nil {
		export.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, insertExportQuery,
		export.ID, export.StoryID, export.Artifact, export.PageSize, export.DPI, export.Status, nonNil(export.Meta),
	).Scan(&export.CreatedAt)
	if err != nil {
		s.logger.Error("Failed to insert export", zap.String("story_id", export.StoryID.String()), zap.Error(err))
		return fmt.Errorf("failed to insert export: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateExport(ctx context.Context, export *domain.Export) error {
	tag, err := s.pool.Exec(ctx, updateExportQuery, export.ID, export.Artifact, export.Status, nonNil(export.Meta))
	if err != nil {
		return fmt.Errorf("failed to update export %s: %w", export.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: export %s", domain.ErrNotFound, export.ID)
	}
	return nil
}

func (s *PostgresStore) GetExport(ctx context.Context, id uuid.UUID) (*domain.Export, error) {
	var export domain.Export
	if err := pgxscan.Get(ctx, s.pool, &export, getExportQuery, id); err != nil {
		if pgxscan.NotFound(err) {
			return nil, fmt.Errorf("%w: export %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get export %s: %w", id, err)
	}
	return &export, nil
}

func (s *PostgresStore) ListExports(ctx context.Context, storyID uuid.UUID) ([]*domain.Export, error) {
	var exports []*domain.Export
	if err := pgxscan.Select(ctx, s.pool, &exports, listExportsQuery, storyID); err != nil {
		return nil, fmt.Errorf("failed to list exports for story %s: %w", storyID, err)
	}
	return exports, nil
}
