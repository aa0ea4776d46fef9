package ports

import (
	"context"

	"dubsync/internal/core/domain"
)

// KeyValueStore is the best-effort local storage backend. Get returns
// domain.ErrKeyNotFound for missing keys and Set returns
// domain.ErrQuotaExceeded when the value does not fit.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// StatePersister serializes library metadata and session state. Restored
// videos carry no handle; restored audio recordings carry a blob without a
// handle.
type StatePersister interface {
	SaveLibrary(ctx context.Context, videos []domain.Video) error
	LoadLibrary(ctx context.Context) ([]domain.Video, error)
	SaveSession(ctx context.Context, session *domain.GameSession) error
	LoadSession(ctx context.Context) (*domain.GameSession, error)
	Clear(ctx context.Context) error
}
