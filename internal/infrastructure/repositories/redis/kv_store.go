package redis

import (
	"context"
	"fmt"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// KVStore stores values under prefix+key.
type KVStore struct {
	client *redis.Client
	prefix string
	quota  int64
	logger *zap.SugaredLogger
}

func NewKVStore(client *redis.Client, prefix string, quotaBytes int64, logger *zap.SugaredLogger) *KVStore {
	return &KVStore{
		client: client,
		prefix: prefix,
		quota:  quotaBytes,
		logger: logger,
	}
}

func (s *KVStore) key(k string) string {
	return s.prefix + k
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from Redis: %w", key, err)
	}
	return data, nil
}

// Set enforces the quota per value; Redis itself has no per-origin quota
// like a browser store.
func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	if s.quota > 0 && int64(len(value)) > s.quota {
		return fmt.Errorf("%w: %d bytes over %d", domain.ErrQuotaExceeded, len(value), s.quota)
	}
	err := s.client.Set(ctx, s.key(key), value, 0).Err()
	if err != nil {
		return fmt.Errorf("failed to set %s in Redis: %w", key, err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	err := s.client.Del(ctx, s.key(key)).Err()
	if err != nil {
		return fmt.Errorf("failed to delete %s from Redis: %w", key, err)
	}
	return nil
}

func (s *KVStore) Close() error {
	return CloseRedisClient(s.client)
}

var _ ports.KeyValueStore = (*KVStore)(nil)
