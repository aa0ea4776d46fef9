package memory

import (
	"context"
	"fmt"
	"sync"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"
)

// KVStore keeps values in process memory. A positive quota caps the total
// stored bytes across all keys.
type KVStore struct {
	mu     sync.RWMutex
	values map[string][]byte
	used   int64
	quota  int64
}

func NewKVStore(quotaBytes int64) *KVStore {
	return &KVStore{
		values: make(map[string][]byte),
		quota:  quotaBytes,
	}
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.used - int64(len(s.values[key])) + int64(len(value))
	if s.quota > 0 && next > s.quota {
		return fmt.Errorf("%w: %d bytes over %d", domain.ErrQuotaExceeded, next, s.quota)
	}
	s.values[key] = append([]byte(nil), value...)
	s.used = next
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.used -= int64(len(s.values[key]))
	delete(s.values, key)
	return nil
}

// Used returns the stored byte count.
func (s *KVStore) Used() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}

func (s *KVStore) Close() error {
	return nil
}

var _ ports.KeyValueStore = (*KVStore)(nil)
