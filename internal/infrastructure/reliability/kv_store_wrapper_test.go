package reliability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"dubsync/internal/core/domain"
	"dubsync/internal/infrastructure/repositories/memory"
	"dubsync/pkg/circuitbreaker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errDown = errors.New("connection refused")

// flakyStore fails every call while down is set.
type flakyStore struct {
	*memory.KVStore
	down  atomic.Bool
	calls atomic.Int32
}

func (f *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	f.calls.Add(1)
	if f.down.Load() {
		return errDown
	}
	return f.KVStore.Set(ctx, key, value)
}

func newWrapper(quota int64) (*KVStoreWrapper, *flakyStore) {
	inner := &flakyStore{KVStore: memory.NewKVStore(quota)}
	cfg := circuitbreaker.Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             30 * time.Millisecond,
		MaxRequestsHalfOpen: 1,
	}
	return NewKVStoreWrapper(inner, cfg, zap.NewNop().Sugar()), inner
}

func TestKVStoreWrapper_PassesThrough(t *testing.T) {
	w, _ := newWrapper(0)
	ctx := context.Background()

	require.NoError(t, w.Set(ctx, "session", []byte("v1")))
	got, err := w.Get(ctx, "session")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, w.Delete(ctx, "session"))
	_, err = w.Get(ctx, "session")
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	assert.Equal(t, circuitbreaker.StateClosed, w.GetCircuitBreakerStats().State)
}

func TestKVStoreWrapper_OpensOnBackendFailures(t *testing.T) {
	w, inner := newWrapper(0)
	ctx := context.Background()
	inner.down.Store(true)

	assert.ErrorIs(t, w.Set(ctx, "videos", []byte("x")), errDown)
	assert.ErrorIs(t, w.Set(ctx, "videos", []byte("x")), errDown)
	assert.ErrorIs(t, w.Set(ctx, "videos", []byte("x")), circuitbreaker.ErrOpen)
	assert.Equal(t, int32(2), inner.calls.Load())

	inner.down.Store(false)
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, w.Set(ctx, "videos", []byte("x")))
	assert.Equal(t, circuitbreaker.StateClosed, w.GetCircuitBreakerStats().State)
}

func TestKVStoreWrapper_QuotaAndMissingKeysDoNotTrip(t *testing.T) {
	w, _ := newWrapper(4)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, w.Set(ctx, "session", []byte("too large")), domain.ErrQuotaExceeded)
		_, err := w.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	}
	assert.Equal(t, circuitbreaker.StateClosed, w.GetCircuitBreakerStats().State)
}
