// Package pipeline превращает исходный текст в чередующиеся пары страниц
// TEXT/IMAGE и передаёт каждую IMAGE страницу в Dispatcher.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"storybook-server/internal/chunker"
	"storybook-server/internal/domain"
	"storybook-server/internal/metrics"
	"storybook-server/internal/repository"
)

// Config управляет нарезкой текста.
type Config struct {
	WordsPerPage int
}

// Pipeline создаёт страницы новой истории.
type Pipeline struct {
	store      repository.Store
	dispatcher Dispatcher
	cfg        Config
	logger     *zap.Logger
}

func New(store repository.Store, dispatcher Dispatcher, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.WordsPerPage <= 0 {
		cfg.WordsPerPage = chunker.DefaultMaxWords
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.Named("StorybookPipeline"),
	}
}

// CreateStorybookFromText режет текст на фрагменты и для фрагмента i
// создаёт одной атомарной парой TEXT страницу с индексом 2i и IMAGE
// страницу 2i+1 с тем же фрагментом в промпте. Каждая IMAGE страница
// отправляется до следующего фрагмента.
//
// История должна уже существовать и быть в DRAFT. Неудачная пара или пустой
// ввод переводят историю в ERROR и возвращают domain.ErrPipelineCreation.
// Ошибка конфигурации при отправке останавливает отправку, но не создание
// страниц; тогда история заканчивается в ERROR, а оставшиеся IMAGE страницы
// остаются PENDING. Иначе история переходит в GENERATING с заполненным
// page_count и завершается, то есть становится READY, как только ни одна
// IMAGE страница не генерируется.
func (p *Pipeline) CreateStorybookFromText(ctx context.Context, story *domain.Story, text string) error {
	log := p.logger.With(zap.String("story_id", story.ID.String()))

	chunks := chunker.Chunk(text, p.cfg.WordsPerPage)
	if len(chunks) == 0 {
		return p.fail(ctx, log, story, fmt.Errorf("%w: source text has no words", domain.ErrPipelineCreation))
	}
	log.Info("Creating storybook pages", zap.Int("chunks", len(chunks)), zap.Int("words_per_page", p.cfg.WordsPerPage))

	var abortErr error
	for i, chunk := range chunks {
		text := domain.NewTextPage(story.ID, 2*i, chunk)
		image := domain.NewImagePage(story.ID, 2*i+1, chunk)
		if err := p.store.CreatePagePair(ctx, text, image); err != nil {
			return p.fail(ctx, log, story, fmt.Errorf("%w: chunk %d: %w", domain.ErrPipelineCreation, i, err))
		}
		if abortErr != nil {
			continue
		}
		if err := p.dispatcher.Dispatch(ctx, image); err != nil {
			if errors.Is(err, domain.ErrGenerationAborted) {
				log.Error("Image generation aborted, creating remaining pages only", zap.Int("chunk", i), zap.Error(err))
				abortErr = err
				continue
			}
			log.Error("Failed to dispatch page image", zap.String("page_id", image.ID.String()), zap.Error(err))
		}
	}

	if abortErr != nil {
		return p.fail(ctx, log, story, abortErr)
	}

	finalized, err := p.store.FinalizeStory(ctx, story.ID, domain.StoryStatusGenerating)
	if err != nil {
		return p.fail(ctx, log, story, fmt.Errorf("%w: %w", domain.ErrPipelineCreation, err))
	}
	status, err := p.store.SettleStory(ctx, story.ID)
	if err != nil {
		return fmt.Errorf("failed to settle story: %w", err)
	}
	story.Status = status
	story.PageCount = finalized.PageCount
	metrics.StoriesCreated.WithLabelValues(string(status)).Inc()
	log.Info("Storybook pages created", zap.Int("page_count", finalized.PageCount), zap.String("status", string(status)))
	return nil
}

func (p *Pipeline) fail(ctx context.Context, log *zap.Logger, story *domain.Story, cause error) error {
	log.Error("Storybook pipeline failed", zap.Error(cause))
	finalized, err := p.store.FinalizeStory(context.WithoutCancel(ctx), story.ID, domain.StoryStatusError)
	if err != nil {
		log.Error("Failed to mark story as ERROR", zap.Error(err))
	} else {
		story.PageCount = finalized.PageCount
	}
	story.Status = domain.StoryStatusError
	metrics.StoriesCreated.WithLabelValues(string(domain.StoryStatusError)).Inc()
	return cause
}
