package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLockPrefix = "aimeter:lock:"

// releaseScript deletes the lock only while it still holds our token, so
// a holder whose TTL lapsed cannot free a lock someone else now owns
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements shared.Locker with SET NX PX
type RedisLocker struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisLocker creates a locker over an existing Redis client
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, keyPrefix: defaultLockPrefix}
}

// Acquire tries once to take the lock
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (shared.Lock, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.keyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, shared.ErrLockNotAcquired
	}
	return &redisLock{client: l.client, key: l.keyPrefix + key, token: token}, nil
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
	once   sync.Once
	err    error
}

func (l *redisLock) Release(ctx context.Context) error {
	l.once.Do(func() {
		err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			l.err = fmt.Errorf("failed to release lock: %w", err)
		}
	})
	return l.err
}

// InMemoryLocker implements shared.Locker within one process
type InMemoryLocker struct {
	held *expiringMap[string]
}

// NewInMemoryLocker creates a process-local locker
func NewInMemoryLocker() *InMemoryLocker {
	return &InMemoryLocker{held: newExpiringMap[string](defaultCleanupInterval)}
}

// Acquire tries once to take the lock
func (l *InMemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (shared.Lock, error) {
	token := uuid.NewString()
	if !l.held.setIfAbsent(key, token, ttl) {
		return nil, shared.ErrLockNotAcquired
	}
	return &memoryLock{locker: l, key: key, token: token}, nil
}

// Close stops the expiry loop
func (l *InMemoryLocker) Close() error {
	l.held.close()
	return nil
}

type memoryLock struct {
	locker *InMemoryLocker
	key    string
	token  string
}

func (l *memoryLock) Release(context.Context) error {
	l.locker.held.deleteIf(l.key, func(token string) bool { return token == l.token })
	return nil
}

var (
	_ shared.Locker = (*RedisLocker)(nil)
	_ shared.Locker = (*InMemoryLocker)(nil)
)
