package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
	"storybook-server/internal/imagegen"
	"storybook-server/internal/lock"
	"storybook-server/internal/metrics"
)

// Disposition говорит консьюмеру, что делать с доставкой.
type Disposition int

const (
	Ack Disposition = iota
	// Requeue возвращает доставку в очередь.
	Requeue
	// Discard выбрасывает доставку без возврата в очередь.
	Discard
)

// Результаты задач для metrics.TasksProcessed.
const (
	resultSuccess   = "success"
	resultFailed    = "failed"
	resultLocked    = "locked"
	resultAborted   = "aborted"
	resultSkipped   = "skipped"
	resultError     = "error"
	resultUnmarshal = "error_unmarshal"
)

// PageGenerator - часть генератора страниц, нужная воркеру.
type PageGenerator interface {
	GeneratePageByID(ctx context.Context, pageID uuid.UUID) (string, error)
}

// Handler обрабатывает доставки задач на изображения страниц.
type Handler struct {
	generator PageGenerator
	locker    lock.Locker
	lockTTL   time.Duration
	logger    *zap.Logger
}

func NewHandler(generator PageGenerator, locker lock.Locker, lockTTL time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		generator: generator,
		locker:    locker,
		lockTTL:   lockTTL,
		logger:    logger.Named("PageImageHandler"),
	}
}

// HandleDelivery принимает одиночную PageImageTask или PageImageTaskBatch.
// Задачи пакета выполняются по порядку. Ошибка конфигурации пропускает
// остаток пакета. Сбой бэкенда блокировок возвращает доставку в очередь,
// если ещё ничего не обработано, иначе пропускает остаток; пропущенные
// страницы остаются PENDING.
func (h *Handler) HandleDelivery(ctx context.Context, msg amqp091.Delivery) Disposition {
	log := h.logger.With(zap.String("correlation_id", msg.CorrelationId))

	tasks, batchID, err := decodeTasks(msg.Body)
	if err != nil {
		log.Error("Failed to unmarshal message body as batch or single task", zap.Error(err), zap.ByteString("body", msg.Body))
		metrics.TasksProcessed.WithLabelValues(resultUnmarshal).Inc()
		return Discard
	}
	if batchID != "" {
		log = log.With(zap.String("batch_id", batchID), zap.Int("task_count", len(tasks)))
		log.Info("Received page image task batch")
	}

	for i, task := range tasks {
		disposition, aborted := h.handleTask(ctx, log, task)
		if disposition == Requeue && i == 0 {
			return Requeue
		}
		if disposition == Requeue || aborted {
			for _, rest := range tasks[i+1:] {
				log.Warn("Skipping remaining batch task", zap.String("task_id", rest.TaskID))
				metrics.TasksProcessed.WithLabelValues(resultSkipped).Inc()
			}
			break
		}
	}
	return Ack
}

func decodeTasks(body []byte) ([]PageImageTask, string, error) {
	var batch PageImageTaskBatch
	if err := json.Unmarshal(body, &batch); err == nil && len(batch.Tasks) > 0 {
		for _, t := range batch.Tasks {
			if t.PageID == uuid.Nil {
				return nil, "", errors.New("batch task without page_id")
			}
		}
		return batch.Tasks, batch.BatchID, nil
	}
	var task PageImageTask
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, "", err
	}
	if task.PageID == uuid.Nil {
		return nil, "", errors.New("task without page_id")
	}
	return []PageImageTask{task}, "", nil
}

// handleTask генерирует одну страницу под её блокировкой. aborted
// сообщает об ошибке конфигурации.
func (h *Handler) handleTask(ctx context.Context, log *zap.Logger, task PageImageTask) (Disposition, bool) {
	log = log.With(
		zap.String("task_id", task.TaskID),
		zap.String("story_id", task.StoryID.String()),
		zap.String("page_id", task.PageID.String()),
	)
	start := time.Now()
	defer func() { metrics.TaskDuration.Observe(time.Since(start).Seconds()) }()

	release, err := h.locker.Obtain(ctx, lock.PageKey(task.PageID), h.lockTTL)
	if errors.Is(err, lock.ErrLocked) {
		log.Info("Page is already being generated, dropping task")
		metrics.TasksProcessed.WithLabelValues(resultLocked).Inc()
		return Ack, false
	}
	if err != nil {
		log.Error("Failed to obtain page lock", zap.Error(err))
		metrics.TasksProcessed.WithLabelValues(resultError).Inc()
		return Requeue, false
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to release page lock", zap.Error(err))
		}
	}()

	artifact, err := h.generator.GeneratePageByID(ctx, task.PageID)
	switch {
	case err == nil && artifact != "":
		log.Info("Page image task completed", zap.String("artifact", artifact))
		metrics.TasksProcessed.WithLabelValues(resultSuccess).Inc()
	case err == nil:
		log.Warn("Page image generation failed; recorded on page")
		metrics.TasksProcessed.WithLabelValues(resultFailed).Inc()
	case imagegen.IsConfiguration(err):
		log.Error("Image provider is not configured", zap.Error(err))
		metrics.TasksProcessed.WithLabelValues(resultAborted).Inc()
		return Ack, true
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrPrecondition):
		log.Warn("Dropping task for a page that cannot be generated", zap.Error(err))
		metrics.TasksProcessed.WithLabelValues(resultSkipped).Inc()
	default:
		log.Error("Page image task failed", zap.Error(err))
		metrics.TasksProcessed.WithLabelValues(resultError).Inc()
	}
	return Ack, false
}
