package repositories

import (
	"context"

	"dubsync/internal/core/ports"
	"dubsync/internal/infrastructure/reliability"
	"dubsync/internal/infrastructure/repositories/file"
	"dubsync/internal/infrastructure/repositories/memory"
	redisrepo "dubsync/internal/infrastructure/repositories/redis"
	"dubsync/pkg/circuitbreaker"
	"dubsync/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StoreFactory creates the persistence backend with fallback to memory.
type StoreFactory struct {
	backend     string
	cfg         *config.Config
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewStoreFactory(cfg *config.Config, logger *zap.SugaredLogger) (*StoreFactory, error) {
	factory := &StoreFactory{
		backend: cfg.Persistence.Backend,
		cfg:     cfg,
		logger:  logger,
	}

	if factory.backend == "redis" || cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			cfg.Persistence.KeyPrefix,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory store",
				"error", err,
			)
			factory.backend = "memory"
		} else {
			factory.redisClient = client
			factory.backend = "redis"
		}
	}

	return factory, nil
}

// Backend reports the backend actually in use.
func (f *StoreFactory) Backend() string {
	return f.backend
}

func (f *StoreFactory) CreateKeyValueStore() ports.KeyValueStore {
	quota := f.cfg.Persistence.QuotaBytes
	switch f.backend {
	case "redis":
		if f.redisClient != nil {
			f.logger.Info("using Redis persistence store")
			store := redisrepo.NewKVStore(f.redisClient, f.cfg.Persistence.KeyPrefix, quota, f.logger)
			breaker := f.cfg.Redis.Breaker
			return reliability.NewKVStoreWrapper(store, circuitbreaker.Config{
				FailureThreshold:    breaker.FailureThreshold,
				SuccessThreshold:    breaker.SuccessThreshold,
				Timeout:             breaker.OpenTimeout,
				MaxRequestsHalfOpen: breaker.SuccessThreshold,
			}, f.logger)
		}
	case "file":
		store, err := file.NewKVStore(f.cfg.Persistence.Directory, quota, f.logger)
		if err == nil {
			f.logger.Infow("using file persistence store", "directory", f.cfg.Persistence.Directory)
			return store
		}
		f.logger.Warnw("failed to open file store, falling back to memory store", "error", err)
		f.backend = "memory"
	}
	f.logger.Info("using memory persistence store")
	return memory.NewKVStore(quota)
}

func (f *StoreFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *StoreFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
