//go:build integration

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	container, err := tcredis.Run(ctx,
		"docker.io/redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("* Ready to accept connections").
				WithOccurrence(1).
				WithStartupTimeout(1*time.Minute),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLocker(client)
	key := PageKey(uuid.New())

	release, err := l.Obtain(ctx, key, time.Minute)
	require.NoError(t, err)
	_, err = l.Obtain(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, release(ctx))
	release2, err := l.Obtain(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, release(ctx), "stale release leaves the new holder alone")
	_, err = l.Obtain(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrLocked)
	require.NoError(t, release2(ctx))
}
