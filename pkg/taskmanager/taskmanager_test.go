package taskmanager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskManager_CompletesTask(t *testing.T) {
	tm := New(Config{MaxTasks: 2})
	id, err := tm.SubmitTask(context.Background(), func(ctx context.Context, params any) (any, error) {
		return params.(int) * 2, nil
	}, 21)
	require.NoError(t, err)

	require.NoError(t, tm.Shutdown(context.Background()))
	task, err := tm.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, task.Status)
	assert.Equal(t, 42, task.Result)
}

func TestTaskManager_FailedTask(t *testing.T) {
	tm := NewManager()
	id, err := tm.SubmitTask(context.Background(), func(ctx context.Context, _ any) (any, error) {
		return nil, errors.New("boom")
	}, nil)
	require.NoError(t, err)

	require.NoError(t, tm.Shutdown(context.Background()))
	task, err := tm.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusFailed, task.Status)
	assert.Contains(t, task.Message, "boom")
}

func TestTaskManager_MaxTasks(t *testing.T) {
	tm := New(Config{MaxTasks: 1})
	release := make(chan struct{})
	_, err := tm.SubmitTask(context.Background(), func(ctx context.Context, _ any) (any, error) {
		<-release
		return nil, nil
	}, nil)
	require.NoError(t, err)

	_, err = tm.SubmitTask(context.Background(), func(ctx context.Context, _ any) (any, error) { return nil, nil }, nil)
	assert.ErrorIs(t, err, ErrTooManyTasks)

	close(release)
	require.NoError(t, tm.Shutdown(context.Background()))

	_, err = tm.SubmitTask(context.Background(), func(ctx context.Context, _ any) (any, error) { return nil, nil }, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTaskManager_CancelTask(t *testing.T) {
	tm := NewManager()
	started := make(chan struct{})
	id, err := tm.SubmitTask(context.Background(), func(ctx context.Context, _ any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil)
	require.NoError(t, err)

	<-started
	require.NoError(t, tm.CancelTask(id))
	tm.Close()

	task, err := tm.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCancelled, task.Status)
	assert.Error(t, tm.CancelTask(id))
}

func TestTaskManager_CallbackAndCleanup(t *testing.T) {
	tm := NewManager()
	release := make(chan struct{})
	id, err := tm.SubmitTask(context.Background(), func(ctx context.Context, _ any) (any, error) {
		<-release
		return "ok", nil
	}, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []TaskStatus
	done := make(chan struct{})
	require.NoError(t, tm.RegisterCallback(id, func(task Task) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, task.Status)
		if task.Status == TaskStatusCompleted {
			close(done)
		}
	}))
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("callback not invoked")
	}
	require.NoError(t, tm.Shutdown(context.Background()))

	time.Sleep(time.Millisecond)
	tm.CleanupTasks(0)
	_, err = tm.GetTask(id)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
