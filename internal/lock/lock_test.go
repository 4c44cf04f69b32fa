package lock

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	now := time.Unix(1000, 0)
	l.clock = func() time.Time { return now }
	key := PageKey(uuid.New())

	release, err := l.Obtain(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = l.Obtain(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, release(ctx))
	release2, err := l.Obtain(ctx, key, time.Minute)
	require.NoError(t, err)

	// Истёкшую аренду можно перехватить, а старый release не должен её снимать.
	now = now.Add(2 * time.Minute)
	release3, err := l.Obtain(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, release2(ctx))
	_, err = l.Obtain(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrLocked)
	require.NoError(t, release3(ctx))
}
