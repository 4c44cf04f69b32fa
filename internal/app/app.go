// Package app собирает компоненты storybook из конфигурации. И CLI, и
// воркер изображений начинают с Build.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storybook-server/internal/config"
	"storybook-server/internal/generator"
	"storybook-server/internal/imagegen"
	"storybook-server/internal/lock"
	"storybook-server/internal/messaging"
	"storybook-server/internal/pdfexport"
	"storybook-server/internal/pipeline"
	"storybook-server/internal/repository"
	"storybook-server/internal/service"
	"storybook-server/internal/storage"
	"storybook-server/pkg/database"
	"storybook-server/pkg/migration"
	"storybook-server/pkg/taskmanager"
)

const (
	taskShutdownTimeout = 5 * time.Minute
	// tokenCountingOff в PROMPT_TOKEN_ENCODING отключает загрузку токенизатора.
	tokenCountingOff = "none"
)

// App владеет долгоживущими компонентами и закрывает их в обратном порядке.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	DB        *database.Database // nil для хранилища в памяти
	Store     repository.Store
	Artifacts storage.Store
	Images    imagegen.Client
	Generator *generator.Generator
	Locker    lock.Locker

	closers []func()
}

// Build подключает хранилище, хранилище артефактов, провайдера изображений
// и бэкенд блокировок.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	switch cfg.Database.Backend {
	case "memory":
		a.Store = repository.NewMemoryStore()
		a.Logger.Warn("Using the in-memory store, nothing will be persisted")
	default:
		db, err := database.New(ctx, database.Config{
			DSN:             cfg.Database.DSN(),
			MaxConns:        cfg.Database.MaxConns,
			MaxConnIdleTime: cfg.Database.IdleTimeout,
		})
		if err != nil {
			return err
		}
		a.DB = db
		a.onClose(db.Close)
		if cfg.Database.AutoMigrate {
			if err := a.Migrator().Up(ctx); err != nil {
				return err
			}
		}
		a.Store = repository.NewPostgresStore(db.Pool, a.Logger)
	}

	switch cfg.Storage.Backend {
	case "gcs":
		gcs, err := storage.NewGCSStore(ctx, cfg.Storage.GCSBucket, cfg.Storage.GCSCredsFile, cfg.Storage.PublicBaseURL, a.Logger)
		if err != nil {
			return err
		}
		a.onClose(func() {
			if err := gcs.Close(); err != nil {
				a.Logger.Warn("Failed to close GCS client", zap.Error(err))
			}
		})
		a.Artifacts = gcs
	default:
		fs, err := storage.NewFileStore(cfg.Storage.Root, cfg.Storage.PublicBaseURL)
		if err != nil {
			return err
		}
		a.Artifacts = fs
	}

	client, err := imagegen.New(ctx, cfg.ImageGen.Options(), a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create image client: %w", err)
	}
	a.Images = client

	if err := a.buildLocker(ctx); err != nil {
		return err
	}

	opts := []generator.Option{generator.WithPageLocker(a.Locker, cfg.Redis.LockTTL)}
	if cfg.ImageGen.TokenEncoding != tokenCountingOff {
		if counter, err := imagegen.NewTokenCounter(cfg.ImageGen.TokenEncoding); err != nil {
			a.Logger.Warn("Prompt token counting disabled", zap.String("encoding", cfg.ImageGen.TokenEncoding), zap.Error(err))
		} else {
			opts = append(opts, generator.WithTokenCounter(counter))
		}
	}
	a.Generator = generator.New(a.Store, client, a.Artifacts, generator.Config{
		MaxRetries:     cfg.Generation.MaxRetries,
		RetryDelay:     cfg.Generation.RetryDelay,
		ErrorMaxLength: cfg.Generation.ErrorMaxLength,
		CostCents:      cfg.ImageGen.CostCents,
	}, a.Logger, opts...)

	return nil
}

func (a *App) buildLocker(ctx context.Context) error {
	cfg := a.Config
	if cfg.Redis.Addr == "" {
		a.Locker = lock.NewMemoryLocker()
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	a.onClose(func() { _ = rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	a.Locker = lock.NewRedisLocker(rdb)
	return nil
}

// Migrator возвращает мигратор по встроенной схеме. Для хранилища в памяти
// паникует.
func (a *App) Migrator() *migration.Migrator {
	if a.DB == nil {
		panic("migrator requires the postgres backend")
	}
	return migration.NewMigrator(migration.Config{
		MigrationsPath: repository.MigrationsPath,
		MigrationsFS:   repository.MigrationsFS,
	}, a.DB.Pool)
}

// Service создаёт сервис storybook с настроенным режимом отправки.
// Режим queue подключается к RabbitMQ, режим async запускает менеджер
// задач, который Close дожидается.
func (a *App) Service(ctx context.Context) (*service.StorybookService, error) {
	cfg := a.Config

	var (
		dispatcher pipeline.Dispatcher
		tasks      taskmanager.Manager
	)
	switch cfg.Pipeline.Dispatch {
	case service.DispatchQueue:
		conn, err := amqp091.Dial(cfg.RabbitMQ.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		a.onClose(func() { _ = conn.Close() })
		publisher, err := messaging.NewRabbitMQPublisher(conn, cfg.RabbitMQ.TaskQueue, a.Logger)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = publisher.Close() })
		dispatcher = pipeline.NewQueueDispatcher(publisher)
	case service.DispatchAsync:
		tm := taskmanager.New(taskmanager.Config{})
		a.onClose(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), taskShutdownTimeout)
			defer cancel()
			if err := tm.Shutdown(shutdownCtx); err != nil {
				a.Logger.Warn("Background tasks did not finish", zap.Error(err))
				tm.Close()
			}
		})
		tasks = tm
		dispatcher = pipeline.NewSyncDispatcher(a.Generator)
	default:
		dispatcher = pipeline.NewSyncDispatcher(a.Generator)
	}

	pl := pipeline.New(a.Store, dispatcher, pipeline.Config{WordsPerPage: cfg.Pipeline.WordsPerPage}, a.Logger)
	svc, err := service.NewStorybookService(service.Deps{
		Store:     a.Store,
		Pipeline:  pl,
		Generator: a.Generator,
		Renderer:  pdfexport.NewRenderer(a.Artifacts, a.Logger),
		Artifacts: a.Artifacts,
		Locker:    a.Locker,
		Tasks:     tasks,
	}, service.Config{
		Dispatch: cfg.Pipeline.Dispatch,
		LockTTL:  cfg.Redis.LockTTL,
		ExportDefaults: pdfexport.Style{
			PageSize:   cfg.Export.PageSize,
			FontFamily: cfg.Export.FontFamily,
			FontSize:   cfg.Export.FontSize,
			DPI:        cfg.Export.DPI,
		},
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// RequireDB возвращает ошибку для команд, которые имеют смысл только с postgres.
func (a *App) RequireDB() error {
	if a.DB == nil {
		return errors.New("this command requires STORE_BACKEND=postgres")
	}
	return nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close освобождает всё, что открыли Build и Service.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
