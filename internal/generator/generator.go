// Package generator проводит IMAGE страницы через PENDING -> RUNNING ->
// READY|ERROR с ограниченным числом обращений к провайдеру.
package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
	"storybook-server/internal/imagegen"
	"storybook-server/internal/lock"
	"storybook-server/internal/metrics"
	"storybook-server/internal/repository"
	"storybook-server/internal/storage"
)

const (
	DefaultMaxRetries     = 1
	DefaultErrorMaxLength = imagegen.MaxDetailLength
)

// Config - политика повторов.
type Config struct {
	// MaxRetries - число попыток после первой.
	MaxRetries int
	// RetryDelay умножается на номер попытки между попытками. Ноль отключает ожидание.
	RetryDelay     time.Duration
	ErrorMaxLength int
	// CostCents записывается в каждое успешное задание.
	CostCents int64
}

// Generator генерирует изображения страниц.
type Generator struct {
	store     repository.Store
	client    imagegen.Client
	artifacts storage.Store
	tokens    imagegen.TokenCounter
	locker    lock.Locker
	lockTTL   time.Duration
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// Option настраивает Generator.
type Option func(*Generator)

// WithTokenCounter записывает число токенов промпта в задания на изображения.
func WithTokenCounter(tc imagegen.TokenCounter) Option {
	return func(g *Generator) { g.tokens = tc }
}

// WithPageLocker заставляет GenerateForStorybook брать блокировку каждой
// генерируемой страницы. Страницы, заблокированные другим прогоном, пропускаются.
func WithPageLocker(l lock.Locker, ttl time.Duration) Option {
	return func(g *Generator) {
		if ttl <= 0 {
			ttl = lock.DefaultTTL
		}
		g.locker, g.lockTTL = l, ttl
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func New(store repository.Store, client imagegen.Client, artifacts storage.Store, cfg Config, logger *zap.Logger, opts ...Option) *Generator {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.ErrorMaxLength <= 0 {
		cfg.ErrorMaxLength = DefaultErrorMaxLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Generator{
		store:     store,
		client:    client,
		artifacts: artifacts,
		cfg:       cfg,
		logger:    logger.Named("PageImageGenerator"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateForPage проходит всю последовательность попыток для страницы и
// затем завершает её историю. Возвращает ссылку на артефакт или "", если
// все попытки провалились; ошибки страницы записываются в саму страницу и
// не возвращаются. Ненулевая ошибка означает нарушение предусловия
// (страница не тронута), ошибку конфигурации (страница в ERROR, прогон
// надо остановить) или ошибку хранилища.
func (g *Generator) GenerateForPage(ctx context.Context, page *domain.Page) (string, error) {
	artifact, err := g.generate(ctx, page)
	var precondition *domain.PreconditionError
	if errors.As(err, &precondition) {
		return "", err
	}
	if _, settleErr := g.store.SettleStory(context.WithoutCancel(ctx), page.StoryID); settleErr != nil {
		g.logger.Warn("Failed to settle story", zap.String("story_id", page.StoryID.String()), zap.Error(settleErr))
	}
	return artifact, err
}

// GeneratePageByID загружает страницу и вызывает GenerateForPage.
func (g *Generator) GeneratePageByID(ctx context.Context, pageID uuid.UUID) (string, error) {
	page, err := g.store.GetPage(ctx, pageID)
	if err != nil {
		return "", err
	}
	return g.GenerateForPage(ctx, page)
}

// GenerateForStorybook генерирует все IMAGE страницы истории в PENDING или
// ERROR в порядке индекса и возвращает, сколько стало READY. Ошибка одной
// страницы не останавливает остальные; ошибка конфигурации останавливает
// прогон и оставляет историю в ERROR. Прерванный прогон возвращает истории
// прежний конечный статус.
func (g *Generator) GenerateForStorybook(ctx context.Context, storyID uuid.UUID) (int, error) {
	log := g.logger.With(zap.String("story_id", storyID.String()))

	story, err := g.store.GetStory(ctx, storyID)
	if err != nil {
		return 0, err
	}
	if story.Status == domain.StoryStatusDraft {
		return 0, &domain.PreconditionError{Reason: "story pages are still being created"}
	}
	prior := story.Status
	if err := g.store.UpdateStoryStatus(ctx, storyID, domain.StoryStatusGenerating); err != nil {
		return 0, err
	}

	pages, err := g.store.ListPages(ctx, storyID, domain.PageFilter{
		Kind:     domain.PageKindImage,
		Statuses: []domain.GenStatus{domain.GenStatusPending, domain.GenStatusError},
	})
	if err != nil {
		return 0, err
	}
	log.Info("Generating story images", zap.Int("pages", len(pages)))

	ready, skipped := 0, 0
	interrupted := false
	for _, page := range pages {
		if ctx.Err() != nil {
			log.Warn("Batch generation interrupted", zap.Error(ctx.Err()))
			interrupted = true
			break
		}
		claimed, release, ok := g.claimPage(ctx, log, page)
		if !ok {
			skipped++
			continue
		}
		artifact, err := g.generate(ctx, claimed)
		release()
		if err != nil {
			if imagegen.IsConfiguration(err) {
				log.Error("Image provider is not configured, aborting batch", zap.Error(err))
				if _, ferr := g.store.FinalizeStory(context.WithoutCancel(ctx), storyID, domain.StoryStatusError); ferr != nil {
					log.Error("Failed to mark story as ERROR", zap.Error(ferr))
				}
				return ready, err
			}
			log.Error("Page generation failed", zap.String("page_id", page.ID.String()), zap.Error(err))
			continue
		}
		if artifact != "" {
			ready++
		}
	}

	status, err := g.store.SettleStory(context.WithoutCancel(ctx), storyID)
	if err != nil {
		return ready, err
	}
	if interrupted {
		if status, err = g.RestoreStatus(ctx, storyID, prior); err != nil {
			return ready, err
		}
	}
	log.Info("Story generation finished",
		zap.Int("ready_pages", ready),
		zap.Int("skipped_pages", skipped),
		zap.String("status", string(status)),
	)
	return ready, nil
}

// claimPage берёт блокировку страницы и перечитывает страницу под ней.
// Возвращает false, если блокировку держит другой прогон или он уже
// продвинул страницу дальше.
func (g *Generator) claimPage(ctx context.Context, log *zap.Logger, page *domain.Page) (*domain.Page, func(), bool) {
	if g.locker == nil {
		return page, func() {}, true
	}
	log = log.With(zap.String("page_id", page.ID.String()))
	release, err := g.locker.Obtain(ctx, lock.PageKey(page.ID), g.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			log.Info("Page is being generated by another run, skipping")
		} else {
			log.Error("Failed to obtain page lock, skipping", zap.Error(err))
		}
		return nil, nil, false
	}
	unlock := func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to release page lock", zap.Error(err))
		}
	}

	current, err := g.store.GetPage(ctx, page.ID)
	if err != nil {
		unlock()
		log.Error("Failed to reload page", zap.Error(err))
		return nil, nil, false
	}
	if current.GenStatus != domain.GenStatusPending && current.GenStatus != domain.GenStatusError {
		unlock()
		log.Info("Page changed since listing, skipping", zap.String("gen_status", string(current.GenStatus)))
		return nil, nil, false
	}
	return current, unlock, true
}

// RestoreStatus возвращает истории, которую прогон перевёл в GENERATING,
// прежний конечный статус, если ни одна IMAGE страница не в RUNNING.
// Страницы, оставленные прерванным прогоном в PENDING, никто не доделает,
// и история не должна их ждать. Возвращает итоговый статус.
func (g *Generator) RestoreStatus(ctx context.Context, storyID uuid.UUID, prior domain.StoryStatus) (domain.StoryStatus, error) {
	ctx = context.WithoutCancel(ctx)
	story, err := g.store.GetStory(ctx, storyID)
	if err != nil {
		return "", err
	}
	if !prior.IsTerminal() || story.Status != domain.StoryStatusGenerating {
		return story.Status, nil
	}
	running, err := g.store.ListPages(ctx, storyID, domain.PageFilter{
		Kind:     domain.PageKindImage,
		Statuses: []domain.GenStatus{domain.GenStatusRunning},
	})
	if err != nil {
		return "", err
	}
	if len(running) > 0 {
		return domain.StoryStatusGenerating, nil
	}
	if err := g.store.UpdateStoryStatus(ctx, storyID, prior); err != nil {
		return "", err
	}
	g.logger.Info("Story status restored", zap.String("story_id", storyID.String()), zap.String("status", string(prior)))
	return prior, nil
}

// generate - это GenerateForPage без завершения истории.
func (g *Generator) generate(ctx context.Context, page *domain.Page) (string, error) {
	if err := checkPreconditions(page); err != nil {
		return "", err
	}
	log := g.logger.With(
		zap.String("page_id", page.ID.String()),
		zap.String("story_id", page.StoryID.String()),
		zap.Int("index", page.Index),
		zap.String("provider", g.client.Name()),
	)

	previous := page.ImageArtifact
	page.GenStatus = domain.GenStatusRunning
	page.GenError = ""
	page.ImageArtifact = ""
	if err := g.store.UpdatePageGeneration(ctx, page); err != nil {
		return "", fmt.Errorf("failed to mark page running: %w", err)
	}
	if previous != "" {
		defer g.discardArtifact(ctx, previous)
	}

	maxAttempts := g.cfg.MaxRetries + 1
	var lastErr error
	var fatal bool
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res := g.attempt(ctx, page, attempt)
		switch res.outcome {
		case outcomeSuccess:
			return g.markReady(ctx, page, res, attempt)
		case outcomeFatal:
			log.Error("Generation attempt failed fatally", zap.Int("attempt", attempt), zap.Error(res.err))
			lastErr, fatal = res.err, true
		case outcomeRetryable:
			log.Warn("Generation attempt failed", zap.Int("attempt", attempt), zap.Int("max_attempts", maxAttempts), zap.Error(res.err))
			lastErr = res.err
			if attempt < maxAttempts {
				if err := sleepCtx(ctx, g.cfg.RetryDelay*time.Duration(attempt)); err != nil {
					lastErr, fatal = fmt.Errorf("generation cancelled: %w", err), true
				}
			}
		}
		if fatal {
			break
		}
	}

	if err := g.markError(ctx, page, lastErr); err != nil {
		return "", err
	}
	if imagegen.IsConfiguration(lastErr) {
		return "", fmt.Errorf("%w: %w", domain.ErrGenerationAborted, lastErr)
	}
	return "", nil
}

func checkPreconditions(page *domain.Page) error {
	if page == nil {
		return &domain.PreconditionError{Reason: "page is nil"}
	}
	switch page.Kind {
	case domain.PageKindImage:
		if page.Prompt() == "" {
			return &domain.PreconditionError{Reason: "image page has an empty prompt"}
		}
		return nil
	case domain.PageKindText:
		return &domain.PreconditionError{Reason: "cannot generate an image for a TEXT page"}
	default:
		return &domain.PreconditionError{Reason: fmt.Sprintf("unknown page kind %q", page.Kind)}
	}
}

func (g *Generator) markReady(ctx context.Context, page *domain.Page, res attemptResult, attempt int) (string, error) {
	page.GenStatus = domain.GenStatusReady
	page.ImageArtifact = res.artifact
	page.GenError = ""
	if page.ImageMeta == nil {
		page.ImageMeta = map[string]any{}
	}
	page.ImageMeta["provider"] = g.client.Name()
	page.ImageMeta["model"] = res.image.Model
	page.ImageMeta["content_type"] = res.image.ContentType
	page.ImageMeta["size_bytes"] = len(res.image.Data)
	page.ImageMeta["attempts"] = attempt
	page.ImageMeta["generated_at"] = g.now().UTC().Format(time.RFC3339)

	if err := g.store.UpdatePageGeneration(context.WithoutCancel(ctx), page); err != nil {
		return "", fmt.Errorf("failed to mark page ready: %w", err)
	}
	metrics.PageResults.WithLabelValues(string(domain.GenStatusReady)).Inc()
	g.logger.Info("Page image ready",
		zap.String("page_id", page.ID.String()),
		zap.Int("attempt", attempt),
		zap.String("artifact", res.artifact),
	)
	return res.artifact, nil
}

func (g *Generator) markError(ctx context.Context, page *domain.Page, cause error) error {
	if cause == nil {
		cause = errors.New("image generation failed")
	}
	page.GenStatus = domain.GenStatusError
	page.ImageArtifact = ""
	page.GenError = imagegen.Truncate(cause.Error(), g.cfg.ErrorMaxLength)
	if err := g.store.UpdatePageGeneration(context.WithoutCancel(ctx), page); err != nil {
		return fmt.Errorf("failed to mark page as error: %w", err)
	}
	metrics.PageResults.WithLabelValues(string(domain.GenStatusError)).Inc()
	return nil
}

// discardArtifact удаляет изображение, на которое страница больше не ссылается.
func (g *Generator) discardArtifact(ctx context.Context, key string) {
	if err := g.artifacts.Delete(context.WithoutCancel(ctx), key); err != nil {
		g.logger.Warn("Failed to delete replaced page image", zap.String("artifact", key), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
