package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
	"storybook-server/pkg/database"
)

const uniqueViolation = "23505"

const (
	storyColumns = `id, title, description, source_type, source_text, settings, status, page_count, created_by, created_at, updated_at`
	pageColumns  = `id, story_id, page_index, kind, text_content, image_prompt, negative_prompt, seed,
		gen_status, image_artifact, gen_error, image_meta, created_at, updated_at`

	insertStoryQuery = `
		INSERT INTO stories (id, title, description, source_type, source_text, settings, status, page_count, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`
	getStoryQuery     = `SELECT ` + storyColumns + ` FROM stories WHERE id = $1`
	listStoriesQuery  = `SELECT ` + storyColumns + ` FROM stories ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`
	updateStatusQuery = `UPDATE stories SET status = $2, updated_at = NOW() WHERE id = $1`
	finalizeQuery     = `
		UPDATE stories s
		SET status = $2,
		    page_count = (SELECT COUNT(*) FROM pages p WHERE p.story_id = s.id),
		    updated_at = NOW()
		WHERE s.id = $1
		RETURNING ` + storyColumns
	settleQuery = `
		UPDATE stories s
		SET status = 'READY',
		    page_count = (SELECT COUNT(*) FROM pages p WHERE p.story_id = s.id),
		    updated_at = NOW()
		WHERE s.id = $1
		  AND s.status = 'GENERATING'
		  AND NOT EXISTS (
		      SELECT 1 FROM pages p
		      WHERE p.story_id = s.id AND p.kind = 'IMAGE' AND p.gen_status IN ('PENDING', 'RUNNING')
		  )
		RETURNING s.status`
	storyStatusQuery    = `SELECT status FROM stories WHERE id = $1`
	storyArtifactsQuery = `
		SELECT image_artifact FROM pages WHERE story_id = $1 AND image_artifact <> ''
		UNION ALL
		SELECT artifact FROM exports WHERE story_id = $1 AND artifact <> ''
		ORDER BY 1`
	deleteStoryQuery = `DELETE FROM stories WHERE id = $1`

	insertPageQuery = `
		INSERT INTO pages (id, story_id, page_index, kind, text_content, image_prompt, negative_prompt, seed,
		                   gen_status, image_artifact, gen_error, image_meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`
	getPageQuery       = `SELECT ` + pageColumns + ` FROM pages WHERE id = $1`
	updatePageGenQuery = `
		UPDATE pages
		SET gen_status = $2, image_artifact = $3, gen_error = $4, image_meta = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
)

// PostgresStore реализует Store поверх PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logger.Named("PostgresStore"),
	}
}

type pageRow struct {
	ID             uuid.UUID        `db:"id"`
	StoryID        uuid.UUID        `db:"story_id"`
	Index          int              `db:"page_index"`
	Kind           domain.PageKind  `db:"kind"`
	TextContent    *string          `db:"text_content"`
	ImagePrompt    *string          `db:"image_prompt"`
	NegativePrompt string           `db:"negative_prompt"`
	Seed           int64            `db:"seed"`
	GenStatus      domain.GenStatus `db:"gen_status"`
	ImageArtifact  string           `db:"image_artifact"`
	GenError       string           `db:"gen_error"`
	ImageMeta      map[string]any   `db:"image_meta"`
	CreatedAt      time.Time        `db:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at"`
}

func (r *pageRow) toDomain() *domain.Page {
	p := &domain.Page{
		ID:            r.ID,
		StoryID:       r.StoryID,
		Index:         r.Index,
		Kind:          r.Kind,
		GenStatus:     r.GenStatus,
		ImageArtifact: r.ImageArtifact,
		GenError:      r.GenError,
		ImageMeta:     r.ImageMeta,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	switch r.Kind {
	case domain.PageKindText:
		if r.TextContent != nil {
			p.Text = &domain.TextContent{Text: *r.TextContent}
		}
	case domain.PageKindImage:
		if r.ImagePrompt != nil {
			p.Image = &domain.ImageContent{Prompt: *r.ImagePrompt, NegativePrompt: r.NegativePrompt, Seed: r.Seed}
		}
	}
	if p.ImageMeta == nil {
		p.ImageMeta = map[string]any{}
	}
	return p
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *PostgresStore) CreateStory(ctx context.Context, story *domain.Story) error {
	if story.ID == uuid.Nil {
		story.ID = uuid.New()
	}
	log := s.logger.With(zap.String("story_id", story.ID.String()))

	err := s.pool.QueryRow(ctx, insertStoryQuery,
		story.ID, story.Title, story.Description, story.SourceType, story.SourceText,
		nonNil(story.Settings), story.Status, story.PageCount, story.CreatedBy,
	).Scan(&story.CreatedAt, &story.UpdatedAt)
	if err != nil {
		log.Error("Failed to insert story", zap.Error(err))
		return fmt.Errorf("failed to insert story %s: %w", story.ID, err)
	}
	log.Debug("Story created", zap.String("status", string(story.Status)))
	return nil
}

func (s *PostgresStore) GetStory(ctx context.Context, id uuid.UUID) (*domain.Story, error) {
	var story domain.Story
	if err := pgxscan.Get(ctx, s.pool, &story, getStoryQuery, id); err != nil {
		if pgxscan.NotFound(err) {
			return nil, fmt.Errorf("%w: story %s", domain.ErrNotFound, id)
		}
		s.logger.Error("Failed to get story", zap.String("story_id", id.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to get story %s: %w", id, err)
	}
	return &story, nil
}

func (s *PostgresStore) ListStories(ctx context.Context, limit, offset int) ([]*domain.Story, error) {
	if limit <= 0 {
		limit = 50
	}
	var stories []*domain.Story
	if err := pgxscan.Select(ctx, s.pool, &stories, listStoriesQuery, limit, offset); err != nil {
		s.logger.Error("Failed to list stories", zap.Error(err))
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	return stories, nil
}

func (s *PostgresStore) UpdateStoryStatus(ctx context.Context, id uuid.UUID, status domain.StoryStatus) error {
	tag, err := s.pool.Exec(ctx, updateStatusQuery, id, status)
	if err != nil {
		s.logger.Error("Failed to update story status", zap.String("story_id", id.String()), zap.Error(err))
		return fmt.Errorf("failed to update story %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: story %s", domain.ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) FinalizeStory(ctx context.Context, id uuid.UUID, status domain.StoryStatus) (*domain.Story, error) {
	var story domain.Story
	if err := pgxscan.Get(ctx, s.pool, &story, finalizeQuery, id, status); err != nil {
		if pgxscan.NotFound(err) {
			return nil, fmt.Errorf("%w: story %s", domain.ErrNotFound, id)
		}
		s.logger.Error("Failed to finalize story", zap.String("story_id", id.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to finalize story %s: %w", id, err)
	}
	return &story, nil
}

func (s *PostgresStore) SettleStory(ctx context.Context, id uuid.UUID) (domain.StoryStatus, error) {
	var status domain.StoryStatus
	err := s.pool.QueryRow(ctx, settleQuery, id).Scan(&status)
	if err == nil {
		s.logger.Info("Story settled", zap.String("story_id", id.String()))
		return status, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("failed to settle story %s: %w", id, err)
	}
	// Завершить сейчас нельзя, отдаём текущий статус.
	if err := s.pool.QueryRow(ctx, storyStatusQuery, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: story %s", domain.ErrNotFound, id)
		}
		return "", fmt.Errorf("failed to read story %s status: %w", id, err)
	}
	return status, nil
}

func (s *PostgresStore) DeleteStory(ctx context.Context, id uuid.UUID) ([]string, error) {
	var artifacts []string
	err := database.ExecuteInTransaction(ctx, s.pool, func(tx pgx.Tx) error {
		if err := pgxscan.Select(ctx, tx, &artifacts, storyArtifactsQuery, id); err != nil {
			return fmt.Errorf("failed to collect artifacts: %w", err)
		}
		tag, err := tx.Exec(ctx, deleteStoryQuery, id)
		if err != nil {
			return fmt.Errorf("failed to delete story: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: story %s", domain.ErrNotFound, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Story deleted", zap.String("story_id", id.String()), zap.Int("artifacts", len(artifacts)))
	return artifacts, nil
}

func insertPage(ctx context.Context, db database.DBTX, p *domain.Page) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	var text, prompt *string
	var negative string
	var seed int64
	switch p.Kind {
	case domain.PageKindText:
		text = &p.Text.Text
	case domain.PageKindImage:
		prompt = &p.Image.Prompt
		negative = p.Image.NegativePrompt
		seed = p.Image.Seed
	}
	return db.QueryRow(ctx, insertPageQuery,
		p.ID, p.StoryID, p.Index, p.Kind, text, prompt, negative, seed,
		p.GenStatus, p.ImageArtifact, p.GenError, nonNil(p.ImageMeta),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (s *PostgresStore) CreatePagePair(ctx context.Context, text, image *domain.Page) error {
	if err := validatePair(text, image); err != nil {
		return err
	}
	log := s.logger.With(zap.String("story_id", text.StoryID.String()), zap.Int("text_index", text.Index))

	err := database.ExecuteInTransaction(ctx, s.pool, func(tx pgx.Tx) error {
		if err := insertPage(ctx, tx, text); err != nil {
			return err
		}
		return insertPage(ctx, tx, image)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: indices %d/%d", domain.ErrDuplicatePageIndex, text.Index, image.Index)
		}
		log.Error("Failed to insert page pair", zap.Error(err))
		return fmt.Errorf("failed to insert page pair: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPage(ctx context.Context, id uuid.UUID) (*domain.Page, error) {
	var row pageRow
	if err := pgxscan.Get(ctx, s.pool, &row, getPageQuery, id); err != nil {
		if pgxscan.NotFound(err) {
			return nil, fmt.Errorf("%w: page %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get page %s: %w", id, err)
	}
	return row.toDomain(), nil
}

func (s *PostgresStore) ListPages(ctx context.Context, storyID uuid.UUID, filter domain.PageFilter) ([]*domain.Page, error) {
	query := `SELECT ` + pageColumns + ` FROM pages WHERE story_id = $1`
	args := []any{storyID}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, pq.Array(statuses))
		query += fmt.Sprintf(" AND gen_status = ANY($%d::text[])", len(args))
	}
	query += " ORDER BY page_index"

	var rows []*pageRow
	if err := pgxscan.Select(ctx, s.pool, &rows, query, args...); err != nil {
		s.logger.Error("Failed to list pages", zap.String("story_id", storyID.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to list pages for story %s: %w", storyID, err)
	}
	pages := make([]*domain.Page, len(rows))
	for i, r := range rows {
		pages[i] = r.toDomain()
	}
	return pages, nil
}

func (s *PostgresStore) UpdatePageGeneration(ctx context.Context, page *domain.Page) error {
	if err := page.Validate(); err != nil {
		return err
	}
	err := s.pool.QueryRow(ctx, updatePageGenQuery,
		page.ID, page.GenStatus, page.ImageArtifact, page.GenError, nonNil(page.ImageMeta),
	).Scan(&page.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: page %s", domain.ErrNotFound, page.ID)
		}
		s.logger.Error("Failed to update page generation", zap.String("page_id", page.ID.String()), zap.Error(err))
		return fmt.Errorf("failed to update page %s: %w", page.ID, err)
	}
	return nil
}
