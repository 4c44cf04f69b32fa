package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrTooManyTasks = errors.New("maximum number of active tasks reached")
	ErrTaskNotFound = errors.New("task not found")
	ErrClosed       = errors.New("task manager is closed")
)

// Manager запускает функции в фоновых горутинах и следит за их статусом.
type Manager interface {
	SubmitTask(ctx context.Context, taskFunc TaskFunc, params any) (uuid.UUID, error)
	SubmitTaskWithOwner(ctx context.Context, taskFunc TaskFunc, params any, ownerID string) (uuid.UUID, error)
	GetTask(taskID uuid.UUID) (Task, error)
	CancelTask(taskID uuid.UUID) error
	RegisterCallback(taskID uuid.UUID, callback TaskCallback) error
	UnregisterCallbacks(taskID uuid.UUID)
	CleanupTasks(age time.Duration)
	Shutdown(ctx context.Context) error
	Close()
}

// Notifier получает каждое изменение статуса, например чтобы переслать его владельцу задачи.
type Notifier interface {
	TaskUpdated(ownerID string, task Task)
}

// Task - снимок фоновой задачи.
type Task struct {
	ID        uuid.UUID
	Status    TaskStatus
	Progress  int
	Message   string
	Result    any
	CreatedAt time.Time
	UpdatedAt time.Time

	cancel context.CancelFunc
}

// TaskStatus - состояние жизненного цикла задачи.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsActive сообщает, что задача ещё не завершилась.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusPending || s == TaskStatusRunning
}

// TaskFunc - тело задачи.
type TaskFunc func(ctx context.Context, params any) (any, error)

// TaskCallback вызывается асинхронно при каждом изменении статуса.
type TaskCallback func(task Task)

// Config настраивает TaskManager.
type Config struct {
	MaxTasks int
	Notifier Notifier
}

// TaskManager - реализация Manager в памяти процесса.
type TaskManager struct {
	mu         sync.RWMutex
	tasks      map[uuid.UUID]*Task
	callbacks  map[uuid.UUID][]TaskCallback
	taskOwners map[uuid.UUID]string
	maxTasks   int
	notifier   Notifier

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ Manager = (*TaskManager)(nil)

// NewManager создаёт TaskManager с настройками по умолчанию.
func NewManager() *TaskManager {
	return New(Config{MaxTasks: 10})
}

func New(cfg Config) *TaskManager {
	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 10
	}
	return &TaskManager{
		tasks:      make(map[uuid.UUID]*Task),
		callbacks:  make(map[uuid.UUID][]TaskCallback),
		taskOwners: make(map[uuid.UUID]string),
		maxTasks:   maxTasks,
		notifier:   cfg.Notifier,
		closing:    make(chan struct{}),
	}
}

// Close отменяет незавершённые задачи и ждёт их горутины.
func (tm *TaskManager) Close() {
	tm.closeOnce.Do(func() { close(tm.closing) })

	tm.mu.Lock()
	for _, task := range tm.tasks {
		if task.Status.IsActive() && task.cancel != nil {
			task.cancel()
		}
	}
	tm.mu.Unlock()

	tm.wg.Wait()
}

// Shutdown перестаёт принимать задачи и ждёт запущенные, пока не истёк ctx.
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	tm.closeOnce.Do(func() { close(tm.closing) })

	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for tasks: %w", ctx.Err())
	}
}

// SubmitTask запускает taskFunc в новой горутине. Контекст задачи отвязан
// от ctx, наследуется только zerolog логгер из ctx.
func (tm *TaskManager) SubmitTask(ctx context.Context, taskFunc TaskFunc, params any) (uuid.UUID, error) {
	return tm.submit(ctx, taskFunc, params, "")
}

// SubmitTaskWithOwner - это SubmitTask с владельцем, о котором узнаёт Notifier.
func (tm *TaskManager) SubmitTaskWithOwner(ctx context.Context, taskFunc TaskFunc, params any, ownerID string) (uuid.UUID, error) {
	return tm.submit(ctx, taskFunc, params, ownerID)
}

func (tm *TaskManager) submit(ctx context.Context, taskFunc TaskFunc, params any, ownerID string) (uuid.UUID, error) {
	select {
	case <-tm.closing:
		return uuid.Nil, ErrClosed
	default:
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	activeTasks := 0
	for _, task := range tm.tasks {
		if task.Status.IsActive() {
			activeTasks++
		}
	}
	if activeTasks >= tm.maxTasks {
		return uuid.Nil, ErrTooManyTasks
	}

	taskID := uuid.New()
	baseTaskCtx, cancel := context.WithCancel(context.Background())
	taskCtx := log.Ctx(ctx).WithContext(baseTaskCtx)

	now := time.Now()
	task := &Task{
		ID:        taskID,
		Status:    TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		cancel:    cancel,
	}
	tm.tasks[taskID] = task
	if ownerID != "" {
		tm.taskOwners[taskID] = ownerID
	}

	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		defer cancel()

		tm.runTask(taskCtx, task, taskFunc, params)
	}()

	return taskID, nil
}

func (tm *TaskManager) runTask(ctx context.Context, task *Task, taskFunc TaskFunc, params any) {
	tm.updateTaskStatus(ctx, task, TaskStatusRunning, 0, "task started", nil)

	result, err := taskFunc(ctx, params)

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			log.Ctx(ctx).Info().Str("taskID", task.ID.String()).Msg("task context cancelled")
			tm.updateTaskStatus(ctx, task, TaskStatusCancelled, 100, "task cancelled", nil)
		} else {
			log.Ctx(ctx).Error().Err(ctx.Err()).Str("taskID", task.ID.String()).Msg("task context error")
			tm.updateTaskStatus(ctx, task, TaskStatusFailed, 100, fmt.Sprintf("context error: %v", ctx.Err()), nil)
		}
		return
	}

	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("taskID", task.ID.String()).Msg("task failed")
		tm.updateTaskStatus(ctx, task, TaskStatusFailed, 100, fmt.Sprintf("error: %v", err), nil)
		return
	}
	tm.updateTaskStatus(ctx, task, TaskStatusCompleted, 100, "task completed", result)
}

func (tm *TaskManager) updateTaskStatus(ctx context.Context, task *Task, status TaskStatus, progress int, message string, result any) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	// Отменённая задача сохраняет статус, даже если её функция вернётся позже.
	if task.Status == TaskStatusCancelled && status != TaskStatusCancelled {
		return
	}
	task.Status = status
	task.Progress = progress
	task.Message = message
	task.UpdatedAt = time.Now()
	if result != nil {
		task.Result = result
	}

	snapshot := *task
	for _, callback := range tm.callbacks[task.ID] {
		go callback(snapshot)
	}
	if tm.notifier != nil {
		if ownerID, ok := tm.taskOwners[task.ID]; ok {
			tm.notifier.TaskUpdated(ownerID, snapshot)
		}
	}

	log.Ctx(ctx).Debug().
		Str("taskID", task.ID.String()).
		Str("newStatus", string(task.Status)).
		Int("progress", task.Progress).
		Str("message", task.Message).
		Msg("task status updated")
}

// GetTask возвращает снимок задачи.
func (tm *TaskManager) GetTask(taskID uuid.UUID) (Task, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return *task, nil
}

// CancelTask отменяет активную задачу.
func (tm *TaskManager) CancelTask(taskID uuid.UUID) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if !task.Status.IsActive() {
		return fmt.Errorf("cannot cancel task in status %s", task.Status)
	}
	if task.cancel != nil {
		task.cancel()
	}
	task.Status = TaskStatusCancelled
	task.Message = "task cancelled by caller"
	task.UpdatedAt = time.Now()
	return nil
}

// RegisterCallback добавляет колбэк статуса для задачи.
func (tm *TaskManager) RegisterCallback(taskID uuid.UUID, callback TaskCallback) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if _, ok := tm.tasks[taskID]; !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	tm.callbacks[taskID] = append(tm.callbacks[taskID], callback)
	return nil
}

// UnregisterCallbacks снимает все колбэки задачи.
func (tm *TaskManager) UnregisterCallbacks(taskID uuid.UUID) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	delete(tm.callbacks, taskID)
}

// CleanupTasks забывает завершённые задачи старше age.
func (tm *TaskManager) CleanupTasks(age time.Duration) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := time.Now()
	for id, task := range tm.tasks {
		if !task.Status.IsActive() && now.Sub(task.UpdatedAt) > age {
			delete(tm.tasks, id)
			delete(tm.callbacks, id)
			delete(tm.taskOwners, id)
		}
	}
}
