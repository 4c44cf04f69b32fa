// Package lock даёт взаимное исключение по страницам, чтобы для одной
// страницы одновременно шла не более чем одна генерация.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL ограничивает жизнь блокировки, владелец которой умер, не освободив её.
const DefaultTTL = 10 * time.Minute

// ErrLocked возвращается, когда блокировкой владеет кто-то другой.
var ErrLocked = errors.New("lock is held by another worker")

// Release отдаёт блокировку. Освобождение истёкшей блокировки ничего не делает.
type Release func(ctx context.Context) error

// Locker выдаёт именованные блокировки с истечением.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// PageKey - ключ блокировки страницы.
func PageKey(pageID uuid.UUID) string {
	return "storybook:page-lock:" + pageID.String()
}

// StoryKey - ключ блокировки пакетного прогона по всей истории.
func StoryKey(storyID uuid.UUID) string {
	return "storybook:story-lock:" + storyID.String()
}
