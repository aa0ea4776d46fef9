package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/ports"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"
)

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// KVStore keeps one file per key in a directory. Writes are atomic and
// durable: a pending file is fsynced then renamed over the target.
type KVStore struct {
	dir    string
	quota  int64
	logger *zap.SugaredLogger

	mu sync.Mutex
}

func NewKVStore(dir string, quotaBytes int64, logger *zap.SugaredLogger) (*KVStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}
	return &KVStore{dir: dir, quota: quotaBytes, logger: logger}, nil
}

func (s *KVStore) path(key string) string {
	return filepath.Join(s.dir, unsafeKeyChars.ReplaceAllString(key, "_")+".json")
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quota > 0 {
		used, err := s.usedExcept(key)
		if err != nil {
			return err
		}
		if used+int64(len(value)) > s.quota {
			return fmt.Errorf("%w: %d bytes over %d", domain.ErrQuotaExceeded, used+int64(len(value)), s.quota)
		}
	}

	pending, err := renameio.NewPendingFile(s.path(key), renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending file for %s: %w", key, err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil && s.logger != nil {
			s.logger.Debugw("cleanup pending file", "key", key, "error", err)
		}
	}()

	if _, err := pending.Write(value); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) usedExcept(key string) (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list store directory: %w", err)
	}
	skip := filepath.Base(s.path(key))
	var used int64
	for _, e := range entries {
		if e.IsDir() || e.Name() == skip || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		used += info.Size()
	}
	return used, nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Close() error {
	return nil
}

var _ ports.KeyValueStore = (*KVStore)(nil)
