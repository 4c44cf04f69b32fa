// Package metrics содержит коллекторы Prometheus пайплайна генерации в
// отдельном реестре, который можно отправлять в Pushgateway.
package metrics

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

// Исходы попыток.
const (
	OutcomeSuccess   = "success"
	OutcomeRetryable = "retryable"
	OutcomeFatal     = "fatal"
)

var (
	// Registry собирает все метрики storybook; реестр по умолчанию не используется.
	Registry = prometheus.NewRegistry()

	GenerationAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_generation_attempts_total",
			Help: "Image generation attempts, partitioned by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
	GenerationLatency = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storybook_generation_attempt_duration_seconds",
			Help:    "Duration of single image generation attempts.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"provider"},
	)
	PageResults = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_page_results_total",
			Help: "Terminal page generation results by gen_status.",
		},
		[]string{"status"},
	)
	StoriesCreated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_stories_total",
			Help: "Stories run through the pipeline, partitioned by final status.",
		},
		[]string{"status"},
	)
	Exports = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_exports_total",
			Help: "PDF exports by status.",
		},
		[]string{"status"},
	)
	TasksProcessed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_worker_tasks_processed_total",
			Help: "Page image tasks handled by the worker, partitioned by result.",
		},
		[]string{"result"},
	)
	TaskDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storybook_worker_task_duration_seconds",
			Help:    "Duration of page image task processing.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
)

const jobName = "storybook"

// Pusher периодически отправляет Registry в Pushgateway.
type Pusher struct {
	pusher *push.Pusher
	logger *zap.Logger
}

// NewPusher создаёт pusher с группировкой по хосту и pid.
func NewPusher(url, component string, logger *zap.Logger) *Pusher {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())
	return &Pusher{
		pusher: push.New(url, jobName).
			Gatherer(Registry).
			Grouping("component", component).
			Grouping("instance", instanceID),
		logger: logger.Named("MetricsPusher"),
	}
}

// Push один раз отправляет текущие значения.
func (p *Pusher) Push(ctx context.Context) error {
	if err := p.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}

// Run отправляет метрики каждый interval, пока жив ctx, и затем последний раз.
func (p *Pusher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.Push(finalCtx); err != nil {
				p.logger.Warn("Final metrics push failed", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := p.Push(ctx); err != nil {
				p.logger.Warn("Metrics push failed", zap.Error(err))
			}
		}
	}
}
