package cache

import (
	"fmt"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/aimeter/backend/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Backend bundles the cache-backed ports used by the metering services
type Backend struct {
	Totals        metering.UsageTotalsCache
	Subscriptions metering.SubscriptionCache
	Locker        shared.Locker
	Processed     shared.IdempotencyStore
	// Distributed is true when state is shared through Redis
	Distributed bool

	closers []func() error
}

// Close releases the Redis client or stops the in-memory expiry loops
func (b *Backend) Close() error {
	var firstErr error
	for _, c := range b.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Factory builds the cache backend based on configuration
type Factory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
	connect               func(RedisConfig) (*redis.Client, error)
}

// FactoryOption is a functional option for configuring the factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to process memory when
// Redis is unavailable. Default is true.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) {
		f.allowInMemoryFallback = allow
	}
}

// NewFactory creates a new factory
func NewFactory(cfg config.RedisConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
		connect:               NewRedisClient,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateRedisBackend connects to Redis and builds the shared backend
func (f *Factory) CreateRedisBackend() (*Backend, error) {
	client, err := f.connect(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err != nil {
		return nil, err
	}

	metered := NewRedisMeteringCache(client, f.logger)
	return &Backend{
		Totals:        metered,
		Subscriptions: metered,
		Locker:        NewRedisLocker(client),
		Processed:     NewRedisIdempotencyStoreWithClient(client, ""),
		Distributed:   true,
		closers:       []func() error{client.Close},
	}, nil
}

// CreateInMemoryBackend builds a process-local backend. Locks and cached
// limits are not shared across instances, so concurrent calls for the same
// billable on different instances are not serialized.
func (f *Factory) CreateInMemoryBackend() *Backend {
	metered := NewInMemoryMeteringCache()
	locker := NewInMemoryLocker()
	processed := NewInMemoryIdempotencyStore()
	return &Backend{
		Totals:        metered,
		Subscriptions: metered,
		Locker:        locker,
		Processed:     processed,
		closers:       []func() error{metered.Close, locker.Close, processed.Close},
	}
}

// CreateBackend uses Redis when enabled and reachable, otherwise falls back
// to the in-memory backend if allowed
func (f *Factory) CreateBackend() (*Backend, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory metering cache")
		return f.CreateInMemoryBackend(), nil
	}

	backend, err := f.CreateRedisBackend()
	if err == nil {
		f.logger.Info("Using Redis metering cache", zap.String("addr", f.redisConfig.Addr()))
		return backend, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for metering cache but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory metering cache. "+
		"Quota locks will not be shared across instances.",
		zap.Error(err),
	)
	return f.CreateInMemoryBackend(), nil
}
