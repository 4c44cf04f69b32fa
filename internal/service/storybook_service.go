// Package service - точка входа в ядро storybook: создаёт истории,
// экспортирует их и перезапускает генерацию.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
	"storybook-server/internal/generator"
	"storybook-server/internal/imagegen"
	"storybook-server/internal/ingest"
	"storybook-server/internal/lock"
	"storybook-server/internal/metrics"
	"storybook-server/internal/pdfexport"
	"storybook-server/internal/pipeline"
	"storybook-server/internal/repository"
	"storybook-server/internal/storage"
	"storybook-server/pkg/taskmanager"
)

// Режимы отправки.
const (
	DispatchSync  = "sync"
	DispatchQueue = "queue"
	DispatchAsync = "async"
)

const (
	DefaultTitle   = "Untitled"
	DefaultLockTTL = lock.DefaultTTL
	// MaxTitleLength совпадает с колонкой stories.title.
	MaxTitleLength = 200
)

// Config настраивает StorybookService.
type Config struct {
	// Dispatch - sync, queue или async. В режиме async пайплайн идёт фоновой
	// задачей, поставленной после коммита строки истории.
	Dispatch       string
	LockTTL        time.Duration
	ExportDefaults pdfexport.Style
}

// Deps - зависимости StorybookService. Tasks нужен только для режима
// async.
type Deps struct {
	Store     repository.Store
	Pipeline  *pipeline.Pipeline
	Generator *generator.Generator
	Renderer  *pdfexport.Renderer
	Artifacts storage.Store
	Locker    lock.Locker
	Tasks     taskmanager.Manager
}

// CreateInput - источник новой истории. Если задан PDF, он важнее
// SourceText.
type CreateInput struct {
	Title       string
	Description string
	SourceText  string
	PDF         io.Reader
	OwnerID     *uuid.UUID
}

// StoryView - история с упорядоченными страницами.
type StoryView struct {
	Story   *domain.Story  `json:"story"`
	Pages   []*domain.Page `json:"pages"`
	Summary PageSummary    `json:"summary"`
}

// PageSummary считает IMAGE страницы по gen_status.
type PageSummary struct {
	Text    int `json:"text"`
	Pending int `json:"pending"`
	Running int `json:"running"`
	Ready   int `json:"ready"`
	Error   int `json:"error"`
}

// StorybookService реализует операции storybook.
type StorybookService struct {
	store     repository.Store
	pipeline  *pipeline.Pipeline
	generator *generator.Generator
	renderer  *pdfexport.Renderer
	artifacts storage.Store
	locker    lock.Locker
	tasks     taskmanager.Manager
	cfg       Config
	logger    *zap.Logger
}

func NewStorybookService(deps Deps, cfg Config, logger *zap.Logger) (*StorybookService, error) {
	if cfg.Dispatch == "" {
		cfg.Dispatch = DispatchSync
	}
	switch cfg.Dispatch {
	case DispatchSync, DispatchQueue:
	case DispatchAsync:
		if deps.Tasks == nil {
			return nil, errors.New("async dispatch requires a task manager")
		}
	default:
		return nil, fmt.Errorf("unsupported dispatch mode %q", cfg.Dispatch)
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	defaults, err := cfg.ExportDefaults.Normalize()
	if err != nil {
		return nil, fmt.Errorf("invalid export defaults: %w", err)
	}
	cfg.ExportDefaults = defaults
	if deps.Locker == nil {
		deps.Locker = lock.NewMemoryLocker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StorybookService{
		store:     deps.Store,
		pipeline:  deps.Pipeline,
		generator: deps.Generator,
		renderer:  deps.Renderer,
		artifacts: deps.Artifacts,
		locker:    deps.Locker,
		tasks:     deps.Tasks,
		cfg:       cfg,
		logger:    logger.Named("StorybookService"),
	}, nil
}

// Create сохраняет новую историю в DRAFT и запускает пайплайн на её
// исходном тексте. Пустой текст отклоняется до любой записи. Заголовок
// обрезается до MaxTitleLength. id истории возвращается вместе с ошибкой
// пайплайна, чтобы вызывающий мог посмотреть упавшую историю.
func (s *StorybookService) Create(ctx context.Context, in CreateInput) (uuid.UUID, error) {
	sourceType := domain.SourceTypePaste
	text := in.SourceText
	if in.PDF != nil {
		extracted, err := ingest.ReadPDF(in.PDF)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		}
		sourceType, text = domain.SourceTypePDF, extracted
	}
	if strings.TrimSpace(text) == "" {
		return uuid.Nil, fmt.Errorf("%w: source text is empty", domain.ErrInvalidInput)
	}
	title := strings.TrimSpace(imagegen.Truncate(strings.TrimSpace(in.Title), MaxTitleLength))
	if title == "" {
		title = DefaultTitle
	}

	settings := domain.DefaultSettings()
	settings[domain.SettingPageSize] = s.cfg.ExportDefaults.PageSize
	settings[domain.SettingFontFamily] = s.cfg.ExportDefaults.FontFamily
	settings[domain.SettingFontSize] = s.cfg.ExportDefaults.FontSize

	story := &domain.Story{
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		SourceType:  sourceType,
		SourceText:  text,
		Settings:    settings,
		Status:      domain.StoryStatusDraft,
		CreatedBy:   in.OwnerID,
	}
	if err := s.store.CreateStory(ctx, story); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create story: %w", err)
	}
	log := s.logger.With(zap.String("story_id", story.ID.String()), zap.String("dispatch", s.cfg.Dispatch))
	log.Info("Story created", zap.String("source_type", string(sourceType)), zap.Int("source_length", len(text)))

	if s.cfg.Dispatch != DispatchAsync {
		return story.ID, s.pipeline.CreateStorybookFromText(ctx, story, text)
	}

	owner := ""
	if in.OwnerID != nil {
		owner = in.OwnerID.String()
	}
	taskID, err := s.tasks.SubmitTaskWithOwner(ctx, s.pipelineTask, pipelineParams{story: story, text: text}, owner)
	if err != nil {
		log.Error("Failed to submit pipeline task", zap.Error(err))
		if _, ferr := s.store.FinalizeStory(context.WithoutCancel(ctx), story.ID, domain.StoryStatusError); ferr != nil {
			log.Error("Failed to mark story as ERROR", zap.Error(ferr))
		}
		return story.ID, fmt.Errorf("%w: %w", domain.ErrPipelineCreation, err)
	}
	log.Info("Pipeline task submitted", zap.String("task_id", taskID.String()))
	return story.ID, nil
}

type pipelineParams struct {
	story *domain.Story
	text  string
}

func (s *StorybookService) pipelineTask(ctx context.Context, params any) (any, error) {
	p, ok := params.(pipelineParams)
	if !ok {
		return nil, fmt.Errorf("unexpected pipeline params %T", params)
	}
	if err := s.pipeline.CreateStorybookFromText(ctx, p.story, p.text); err != nil {
		return nil, err
	}
	return p.story.ID, nil
}

// Get возвращает историю со страницами в порядке индекса.
func (s *StorybookService) Get(ctx context.Context, storyID uuid.UUID) (*StoryView, error) {
	story, err := s.store.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	pages, err := s.store.ListPages(ctx, storyID, domain.PageFilter{})
	if err != nil {
		return nil, err
	}
	view := &StoryView{Story: story, Pages: pages}
	for _, p := range pages {
		if p.Kind == domain.PageKindText {
			view.Summary.Text++
			continue
		}
		switch p.GenStatus {
		case domain.GenStatusPending:
			view.Summary.Pending++
		case domain.GenStatusRunning:
			view.Summary.Running++
		case domain.GenStatusReady:
			view.Summary.Ready++
		case domain.GenStatusError:
			view.Summary.Error++
		}
	}
	return view, nil
}

// List возвращает истории, сначала новые.
func (s *StorybookService) List(ctx context.Context, limit, offset int) ([]*domain.Story, error) {
	return s.store.ListStories(ctx, limit, offset)
}

// ImageJobs возвращает попытки генерации страницы.
func (s *StorybookService) ImageJobs(ctx context.Context, pageID uuid.UUID) ([]*domain.ImageJob, error) {
	return s.store.ListImageJobs(ctx, pageID)
}

// Exports возвращает экспорты истории.
func (s *StorybookService) Exports(ctx context.Context, storyID uuid.UUID) ([]*domain.Export, error) {
	return s.store.ListExports(ctx, storyID)
}

// Delete удаляет историю со страницами, заданиями и экспортами, а затем
// артефакты, на которые они ссылались. Ошибки чистки артефактов только
// логируются.
func (s *StorybookService) Delete(ctx context.Context, storyID uuid.UUID) error {
	keys, err := s.store.DeleteStory(ctx, storyID)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.artifacts.Delete(ctx, key); err != nil {
			s.logger.Warn("Failed to delete artifact", zap.String("story_id", storyID.String()), zap.String("artifact", key), zap.Error(err))
		}
	}
	s.logger.Info("Story deleted", zap.String("story_id", storyID.String()), zap.Int("artifacts", len(keys)))
	return nil
}

// Regenerate генерирует все IMAGE страницы истории в PENDING или ERROR и
// возвращает, сколько стало READY. Одновременно допускается один прогон на
// историю; страницы, занятые другим прогоном, пропускаются.
func (s *StorybookService) Regenerate(ctx context.Context, storyID uuid.UUID) (int, error) {
	release, err := s.locker.Obtain(ctx, lock.StoryKey(storyID), s.cfg.LockTTL)
	if err != nil {
		return 0, fmt.Errorf("story %s: %w", storyID, err)
	}
	defer s.release(ctx, release)

	return s.generator.GenerateForStorybook(ctx, storyID)
}

// RegeneratePage перегенерирует одну IMAGE страницу в любом статусе под
// блокировкой страницы. История в READY или ERROR на время прогона
// переходит в GENERATING; если после него другие страницы всё ещё ждут,
// истории возвращается прежний статус, их больше никто не доделает.
func (s *StorybookService) RegeneratePage(ctx context.Context, pageID uuid.UUID) (string, error) {
	release, err := s.locker.Obtain(ctx, lock.PageKey(pageID), s.cfg.LockTTL)
	if err != nil {
		return "", fmt.Errorf("page %s: %w", pageID, err)
	}
	defer s.release(ctx, release)

	page, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		return "", err
	}
	if page.Kind != domain.PageKindImage {
		return "", &domain.PreconditionError{Reason: "cannot generate an image for a TEXT page"}
	}
	story, err := s.store.GetStory(ctx, page.StoryID)
	if err != nil {
		return "", err
	}
	if story.Status == domain.StoryStatusDraft {
		return "", &domain.PreconditionError{Reason: "story pages are still being created"}
	}
	prior := story.Status
	if prior == domain.StoryStatusGenerating {
		return s.generator.GenerateForPage(ctx, page)
	}
	if err := s.store.UpdateStoryStatus(ctx, story.ID, domain.StoryStatusGenerating); err != nil {
		return "", err
	}
	artifact, err := s.generator.GenerateForPage(ctx, page)
	if _, rerr := s.generator.RestoreStatus(ctx, story.ID, prior); rerr != nil {
		s.logger.Warn("Failed to restore story status", zap.String("story_id", story.ID.String()), zap.Error(rerr))
	}
	return artifact, err
}

func (s *StorybookService) release(ctx context.Context, release lock.Release) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("Failed to release lock", zap.Error(err))
	}
}

// Export отрисовывает историю в PDF и возвращает URL артефакта. Опции
// шрифта проверяются до любой записи; пустые опции берутся из настроек
// истории. Экспортировать можно историю в любом статусе.
func (s *StorybookService) Export(ctx context.Context, storyID uuid.UUID, fontFamily, fontSize string) (string, error) {
	var (
		family string
		size   int
		err    error
	)
	if strings.TrimSpace(fontFamily) != "" {
		if family, err = pdfexport.NormalizeFontFamily(fontFamily); err != nil {
			return "", err
		}
	}
	if strings.TrimSpace(fontSize) != "" {
		if size, err = pdfexport.ParseFontSize(fontSize); err != nil {
			return "", err
		}
	}

	story, err := s.store.GetStory(ctx, storyID)
	if err != nil {
		return "", err
	}
	style := pdfexport.StyleFromStory(story, s.cfg.ExportDefaults)
	if family != "" {
		style.FontFamily = family
	}
	if size != 0 {
		style.FontSize = size
	}

	pages, err := s.store.ListPages(ctx, storyID, domain.PageFilter{})
	if err != nil {
		return "", err
	}

	log := s.logger.With(zap.String("story_id", storyID.String()))
	export := &domain.Export{
		StoryID:  storyID,
		PageSize: style.PageSize,
		DPI:      style.DPI,
		Status:   domain.ExportStatusPending,
		Meta: map[string]any{
			"font_family":  style.FontFamily,
			"font_size":    style.FontSize,
			"story_status": string(story.Status),
		},
	}
	if err := s.store.CreateExport(ctx, export); err != nil {
		return "", fmt.Errorf("failed to create export: %w", err)
	}
	log = log.With(zap.String("export_id", export.ID.String()))

	res, err := s.renderer.Render(ctx, story, pages, style)
	if err != nil {
		s.failExport(ctx, log, export, err)
		return "", err
	}
	key, err := s.artifacts.Save(ctx, storage.ExportKey(export.ID), res.Data)
	if err != nil {
		s.failExport(ctx, log, export, err)
		return "", fmt.Errorf("failed to store export: %w", err)
	}

	export.Status = domain.ExportStatusReady
	export.Artifact = key
	export.Meta["size_bytes"] = len(res.Data)
	export.Meta["sections"] = res.Sections
	export.Meta["skipped_images"] = res.SkippedImages
	if err := s.store.UpdateExport(context.WithoutCancel(ctx), export); err != nil {
		return "", fmt.Errorf("failed to update export: %w", err)
	}
	metrics.Exports.WithLabelValues(string(domain.ExportStatusReady)).Inc()
	log.Info("Story exported", zap.String("artifact", key), zap.Int("sections", res.Sections), zap.Int("skipped_images", res.SkippedImages))
	return s.artifacts.URL(key), nil
}

func (s *StorybookService) failExport(ctx context.Context, log *zap.Logger, export *domain.Export, cause error) {
	log.Error("Export failed", zap.Error(cause))
	export.Status = domain.ExportStatusError
	export.Meta["error"] = cause.Error()
	if err := s.store.UpdateExport(context.WithoutCancel(ctx), export); err != nil {
		log.Error("Failed to mark export as ERROR", zap.Error(err))
	}
	metrics.Exports.WithLabelValues(string(domain.ExportStatusError)).Inc()
}
