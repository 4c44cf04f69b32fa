package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storybook-server/internal/app"
	"storybook-server/internal/config"
	"storybook-server/internal/logger"
	"storybook-server/internal/messaging"
	"storybook-server/internal/metrics"
)

func main() {
	cfg, workerCfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()
	appLogger.Info("Starting image worker...",
		zap.String("env", cfg.AppEnv),
		zap.String("provider", cfg.ImageGen.Provider),
		zap.String("queue", cfg.RabbitMQ.TaskQueue),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer a.Close()
	if cfg.Redis.Addr == "" {
		appLogger.Warn("REDIS_ADDR is not set, page locks only cover this process")
	}

	handler := messaging.NewHandler(a.Generator, a.Locker, cfg.Redis.LockTTL, appLogger)
	consumerCfg := messaging.ConsumerConfig{
		Queue:    cfg.RabbitMQ.TaskQueue,
		Name:     workerCfg.ConsumerName,
		Prefetch: workerCfg.Prefetch,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumeLoop(gctx, cfg.RabbitMQ.URL, consumerCfg, handler, workerCfg.ReconnectDelay, appLogger)
	})
	if cfg.PushGatewayURL != "" {
		pusher := metrics.NewPusher(cfg.PushGatewayURL, "image-worker", appLogger)
		g.Go(func() error {
			pusher.Run(gctx, workerCfg.MetricsPushEvery)
			return nil
		})
	}

	appLogger.Info("Image worker started")
	<-gctx.Done()
	appLogger.Info("Shutting down image worker...")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			appLogger.Error("Image worker stopped with error", zap.Error(err))
			return
		}
	case <-time.After(workerCfg.ShutdownTimeout):
		appLogger.Warn("Shutdown timed out, in-flight tasks may be redelivered", zap.Duration("timeout", workerCfg.ShutdownTimeout))
		return
	}
	appLogger.Info("Image worker shut down gracefully")
}

// consumeLoop держит консьюмер на очереди задач и переподключается
// после потери соединения, пока не отменён ctx.
func consumeLoop(ctx context.Context, url string, cfg messaging.ConsumerConfig, handler *messaging.Handler, delay time.Duration, logger *zap.Logger) error {
	for attempt := 1; ; attempt++ {
		err := consumeOnce(ctx, url, cfg, handler, logger)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, messaging.ErrConsumerClosed) {
			attempt = 0
		}
		logger.Error("RabbitMQ consumer stopped, reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

func consumeOnce(ctx context.Context, url string, cfg messaging.ConsumerConfig, handler *messaging.Handler, logger *zap.Logger) error {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Info("RabbitMQ connected successfully")
	return messaging.Consume(ctx, conn, cfg, handler, logger)
}
