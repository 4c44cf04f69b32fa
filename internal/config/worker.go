package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// WorkerConfig содержит настройки, которые читает только воркер изображений.
type WorkerConfig struct {
	ConsumerName     string        `envconfig:"CONSUMER_NAME" default:"page_image_worker"`
	Prefetch         int           `envconfig:"PREFETCH" default:"1"`
	ReconnectDelay   time.Duration `envconfig:"RECONNECT_DELAY" default:"5s"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	MetricsPushEvery time.Duration `envconfig:"METRICS_PUSH_INTERVAL" default:"15s"`
}

// LoadWorker загружает общую конфигурацию и настройки с префиксом WORKER_.
func LoadWorker() (*Config, *WorkerConfig, error) {
	cfg, err := Load()
	if err != nil {
		return nil, nil, err
	}
	var wc WorkerConfig
	if err := envconfig.Process("worker", &wc); err != nil {
		return nil, nil, fmt.Errorf("error loading worker configuration: %w", err)
	}
	if wc.Prefetch < 1 {
		wc.Prefetch = 1
	}
	return cfg, &wc, nil
}
