package pipeline

import (
	"context"
	"fmt"

	"storybook-server/internal/domain"
	"storybook-server/internal/generator"
	"storybook-server/internal/messaging"
)

// Dispatcher получает каждую IMAGE страницу, созданную пайплайном, сразу
// после коммита её пары. Ошибка, оборачивающая domain.ErrGenerationAborted,
// останавливает дальнейшую отправку по истории; прочие ошибки логируются,
// а страница остаётся PENDING.
type Dispatcher interface {
	Dispatch(ctx context.Context, page *domain.Page) error
}

// SyncDispatcher генерирует страницу на месте, до создания следующего фрагмента.
type SyncDispatcher struct {
	generator *generator.Generator
}

func NewSyncDispatcher(gen *generator.Generator) *SyncDispatcher {
	return &SyncDispatcher{generator: gen}
}

func (d *SyncDispatcher) Dispatch(ctx context.Context, page *domain.Page) error {
	_, err := d.generator.GenerateForPage(ctx, page)
	return err
}

// QueueDispatcher публикует PageImageTask на каждую страницу для воркера изображений.
type QueueDispatcher struct {
	publisher messaging.TaskPublisher
}

func NewQueueDispatcher(publisher messaging.TaskPublisher) *QueueDispatcher {
	return &QueueDispatcher{publisher: publisher}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, page *domain.Page) error {
	task := messaging.NewPageImageTask(page.StoryID, page.ID)
	if err := d.publisher.PublishPageImageTasks(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue page %s: %w", page.ID, err)
	}
	return nil
}
