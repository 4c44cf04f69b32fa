// Package repository хранит истории, страницы, задания на изображения и
// экспорты и следит за их инвариантами на уровне хранилища (уникальный
// индекс страницы в истории, атомарные пары страниц, согласованный page_count).
package repository

import (
	"context"

	"github.com/google/uuid"

	"storybook-server/internal/domain"
)

// StoryRepository управляет историями.
type StoryRepository interface {
	CreateStory(ctx context.Context, story *domain.Story) error
	GetStory(ctx context.Context, id uuid.UUID) (*domain.Story, error)
	ListStories(ctx context.Context, limit, offset int) ([]*domain.Story, error)
	UpdateStoryStatus(ctx context.Context, id uuid.UUID, status domain.StoryStatus) error
	// FinalizeStory ставит статус и пересчитывает page_count по таблице страниц.
	FinalizeStory(ctx context.Context, id uuid.UUID, status domain.StoryStatus) (*domain.Story, error)
	// SettleStory переводит историю из GENERATING в READY, когда ни одна её
	// IMAGE страница не в PENDING или RUNNING, и возвращает итоговый статус.
	SettleStory(ctx context.Context, id uuid.UUID) (domain.StoryStatus, error)
	// DeleteStory удаляет историю вместе со страницами, заданиями и экспортами
	// и возвращает ключи артефактов, на которые они ссылались.
	DeleteStory(ctx context.Context, id uuid.UUID) ([]string, error)
}

// PageRepository управляет страницами.
type PageRepository interface {
	// CreatePagePair атомарно вставляет TEXT страницу и её IMAGE страницу.
	CreatePagePair(ctx context.Context, text, image *domain.Page) error
	GetPage(ctx context.Context, id uuid.UUID) (*domain.Page, error)
	// ListPages возвращает страницы истории под фильтр, упорядоченные по индексу.
	ListPages(ctx context.Context, storyID uuid.UUID, filter domain.PageFilter) ([]*domain.Page, error)
	// UpdatePageGeneration сохраняет gen_status, image_artifact, gen_error и image_meta.
	UpdatePageGeneration(ctx context.Context, page *domain.Page) error
}

// ImageJobRepository записывает попытки генерации.
type ImageJobRepository interface {
	CreateImageJob(ctx context.Context, job *domain.ImageJob) error
	UpdateImageJob(ctx context.Context, job *domain.ImageJob) error
	ListImageJobs(ctx context.Context, pageID uuid.UUID) ([]*domain.ImageJob, error)
}

// ExportRepository записывает экспорты в PDF.
type ExportRepository interface {
	CreateExport(ctx context.Context, export *domain.Export) error
	UpdateExport(ctx context.Context, export *domain.Export) error
	GetExport(ctx context.Context, id uuid.UUID) (*domain.Export, error)
	ListExports(ctx context.Context, storyID uuid.UUID) ([]*domain.Export, error)
}

// Store - полный интерфейс хранилища.
type Store interface {
	StoryRepository
	PageRepository
	ImageJobRepository
	ExportRepository
}

// validatePair проверяет обе страницы до любой вставки.
func validatePair(text, image *domain.Page) error {
	if text == nil || image == nil {
		return domain.ErrInvalidInput
	}
	if text.Kind != domain.PageKindText || image.Kind != domain.PageKindImage {
		return domain.ErrInvalidInput
	}
	if text.StoryID != image.StoryID || image.Index != text.Index+1 {
		return domain.ErrInvalidInput
	}
	if err := text.Validate(); err != nil {
		return err
	}
	return image.Validate()
}
