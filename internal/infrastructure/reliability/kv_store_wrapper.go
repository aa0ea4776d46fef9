package reliability

import (
	"context"
	"errors"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"
	"dubsync/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// KVStoreWrapper guards a remote KeyValueStore with a circuit breaker so an
// unreachable backend fails fast instead of stalling every save.
type KVStoreWrapper struct {
	store   ports.KeyValueStore
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func NewKVStoreWrapper(store ports.KeyValueStore, cbConfig circuitbreaker.Config, logger *zap.SugaredLogger) *KVStoreWrapper {
	cbConfig.IsFailure = isBackendFailure
	w := &KVStoreWrapper{
		store:   store,
		breaker: circuitbreaker.New(cbConfig),
		logger:  logger,
	}

	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("persistence circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})
	return w
}

// isBackendFailure excludes outcomes the backend reported correctly.
func isBackendFailure(err error) bool {
	return !errors.Is(err, domain.ErrKeyNotFound) &&
		!errors.Is(err, domain.ErrQuotaExceeded) &&
		!errors.Is(err, context.Canceled)
}

func (w *KVStoreWrapper) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := w.breaker.Execute(ctx, func() error {
		var err error
		value, err = w.store.Get(ctx, key)
		return err
	})
	return value, err
}

func (w *KVStoreWrapper) Set(ctx context.Context, key string, value []byte) error {
	return w.breaker.Execute(ctx, func() error {
		return w.store.Set(ctx, key, value)
	})
}

func (w *KVStoreWrapper) Delete(ctx context.Context, key string) error {
	return w.breaker.Execute(ctx, func() error {
		return w.store.Delete(ctx, key)
	})
}

func (w *KVStoreWrapper) Close() error {
	return w.store.Close()
}

// GetCircuitBreakerStats returns the breaker state for diagnostics.
func (w *KVStoreWrapper) GetCircuitBreakerStats() circuitbreaker.Stats {
	return w.breaker.GetStats()
}

var _ ports.KeyValueStore = (*KVStoreWrapper)(nil)
