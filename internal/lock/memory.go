package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLocker - Locker в памяти процесса для запуска одним бинарником.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryLease
	clock func() time.Time
	seq   uint64
}

type memoryLease struct {
	id        uint64
	expiresAt time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryLease), clock: time.Now}
}

func (l *MemoryLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if lease, ok := l.held[key]; ok && now.Before(lease.expiresAt) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, key)
	}
	l.seq++
	id := l.seq
	l.held[key] = memoryLease{id: id, expiresAt: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if lease, ok := l.held[key]; ok && lease.id == id {
			delete(l.held, key)
		}
		return nil
	}, nil
}
