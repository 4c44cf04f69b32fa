package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	SecretsDir = t.TempDir()
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Backend)
	assert.Equal(t, "postgres://u:p@db:5432/s", cfg.Database.DSN())
	assert.False(t, cfg.Database.AutoMigrate)
	assert.Equal(t, 10*time.Minute, cfg.Redis.LockTTL)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, 1, cfg.Generation.MaxRetries)
	assert.Equal(t, 500, cfg.Generation.ErrorMaxLength)
	assert.Equal(t, 120*time.Second, cfg.ImageGen.Timeout)
	assert.Equal(t, 200, cfg.Pipeline.WordsPerPage)
	assert.Equal(t, "sync", cfg.Pipeline.Dispatch)
	assert.Equal(t, "A4", cfg.Export.PageSize)
	assert.Equal(t, 300, cfg.Export.DPI)
}

func TestLoad_Invalid(t *testing.T) {
	SecretsDir = t.TempDir()
	t.Setenv("GENERATION_DISPATCH", "carrier-pigeon")
	_, err := Load()
	assert.ErrorContains(t, err, "GENERATION_DISPATCH")
}

func TestDatabaseConfig_DSNFromParts(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: 5433, Name: "n", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5433/n?sslmode=disable", c.DSN())
}

func TestLoadWorker(t *testing.T) {
	SecretsDir = t.TempDir()
	t.Setenv("WORKER_PREFETCH", "4")
	t.Setenv("WORKER_RECONNECT_DELAY", "1s")

	_, wc, err := LoadWorker()
	require.NoError(t, err)
	assert.Equal(t, 4, wc.Prefetch)
	assert.Equal(t, time.Second, wc.ReconnectDelay)
	assert.Equal(t, "page_image_worker", wc.ConsumerName)
}
