package repositories

import (
	"context"
	"testing"

	"dubsync/internal/infrastructure/reliability"
	"dubsync/internal/infrastructure/repositories/file"
	"dubsync/internal/infrastructure/repositories/memory"
	"dubsync/pkg/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStoreFactory_Backends(t *testing.T) {
	logger := zap.NewNop().Sugar()

	cfg := config.DefaultConfig()
	f, err := NewStoreFactory(cfg, logger)
	require.NoError(t, err)
	assert.IsType(t, &memory.KVStore{}, f.CreateKeyValueStore())

	cfg = config.DefaultConfig()
	cfg.Persistence.Backend = "file"
	cfg.Persistence.Directory = t.TempDir()
	f, err = NewStoreFactory(cfg, logger)
	require.NoError(t, err)
	assert.IsType(t, &file.KVStore{}, f.CreateKeyValueStore())
}

func TestStoreFactory_RedisAndFallback(t *testing.T) {
	logger := zap.NewNop().Sugar()
	mr := miniredis.RunT(t)

	cfg := config.DefaultConfig()
	cfg.Persistence.Backend = "redis"
	cfg.Redis.Address = mr.Addr()
	f, err := NewStoreFactory(cfg, logger)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "redis", f.Backend())
	store := f.CreateKeyValueStore()
	require.IsType(t, &reliability.KVStoreWrapper{}, store)
	require.NoError(t, store.Set(context.Background(), "session", []byte("{}")))
	assert.True(t, mr.Exists("dubsync:session"))
	assert.NoError(t, f.HealthCheck(context.Background()))

	cfg = config.DefaultConfig()
	cfg.Persistence.Backend = "redis"
	cfg.Redis.Address = "127.0.0.1:1"
	f, err = NewStoreFactory(cfg, logger)
	require.NoError(t, err)
	assert.Equal(t, "memory", f.Backend())
	assert.IsType(t, &memory.KVStore{}, f.CreateKeyValueStore())
}
