package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultScanBatchSize  = 100
	totalsKeyPrefix       = "aimeter:totals:"
	subscriptionKeyPrefix = "aimeter:subscription:"
)

// totalsPrefix is shared by every cached period of one billable
func totalsPrefix(billable metering.BillableRef) string {
	return totalsKeyPrefix + billable.Key() + ":"
}

func totalsKey(billable metering.BillableRef, period metering.BillingPeriod) string {
	return fmt.Sprintf("%s%d:%d", totalsPrefix(billable), period.Start.Unix(), period.End.Unix())
}

func subscriptionKey(billable metering.BillableRef) string {
	return subscriptionKeyPrefix + billable.Key()
}

// RedisMeteringCache caches usage totals and current subscriptions in
// Redis so that every instance reads the same limit state
type RedisMeteringCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisMeteringCache creates a cache over an existing Redis client
func NewRedisMeteringCache(client *redis.Client, logger *zap.Logger) *RedisMeteringCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisMeteringCache{client: client, logger: logger}
}

// GetTotals returns cached totals, or nil on a miss
func (c *RedisMeteringCache) GetTotals(ctx context.Context, billable metering.BillableRef, period metering.BillingPeriod) (*metering.UsageTotals, error) {
	var totals metering.UsageTotals
	found, err := c.getJSON(ctx, totalsKey(billable, period), &totals)
	if err != nil || !found {
		return nil, err
	}
	return &totals, nil
}

// SetTotals caches totals for the period
func (c *RedisMeteringCache) SetTotals(ctx context.Context, billable metering.BillableRef, period metering.BillingPeriod, totals metering.UsageTotals, ttl time.Duration) error {
	return c.setJSON(ctx, totalsKey(billable, period), totals, ttl)
}

// InvalidateTotals drops every cached period of the billable
func (c *RedisMeteringCache) InvalidateTotals(ctx context.Context, billable metering.BillableRef) error {
	var cursor uint64
	var deleted int64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, totalsPrefix(billable)+"*", defaultScanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("failed to scan usage cache keys: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("failed to delete usage cache keys: %w", err)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.logger.Debug("Invalidated usage totals",
		zap.String("billable", billable.Key()),
		zap.Int64("deleted_count", deleted))
	return nil
}

// GetSubscription returns the cached subscription, or nil on a miss
func (c *RedisMeteringCache) GetSubscription(ctx context.Context, billable metering.BillableRef) (*metering.Subscription, error) {
	var sub metering.Subscription
	found, err := c.getJSON(ctx, subscriptionKey(billable), &sub)
	if err != nil || !found {
		return nil, err
	}
	return &sub, nil
}

// SetSubscription caches the subscription
func (c *RedisMeteringCache) SetSubscription(ctx context.Context, billable metering.BillableRef, sub *metering.Subscription, ttl time.Duration) error {
	if sub == nil {
		return nil
	}
	return c.setJSON(ctx, subscriptionKey(billable), sub, ttl)
}

// InvalidateSubscription drops the cached subscription
func (c *RedisMeteringCache) InvalidateSubscription(ctx context.Context, billable metering.BillableRef) error {
	if err := c.client.Del(ctx, subscriptionKey(billable)).Err(); err != nil {
		return fmt.Errorf("failed to delete subscription from cache: %w", err)
	}
	return nil
}

func (c *RedisMeteringCache) getJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s from cache: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warn("Dropping corrupted cache entry", zap.String("key", key), zap.Error(err))
		_ = c.client.Del(ctx, key)
		return false, nil
	}
	return true, nil
}

func (c *RedisMeteringCache) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write %s to cache: %w", key, err)
	}
	return nil
}

// InMemoryMeteringCache is the process-local variant of RedisMeteringCache
type InMemoryMeteringCache struct {
	totals        *expiringMap[metering.UsageTotals]
	subscriptions *expiringMap[metering.Subscription]
}

// NewInMemoryMeteringCache creates an in-memory metering cache
func NewInMemoryMeteringCache() *InMemoryMeteringCache {
	return &InMemoryMeteringCache{
		totals:        newExpiringMap[metering.UsageTotals](defaultCleanupInterval),
		subscriptions: newExpiringMap[metering.Subscription](defaultCleanupInterval),
	}
}

// GetTotals returns cached totals, or nil on a miss
func (c *InMemoryMeteringCache) GetTotals(_ context.Context, billable metering.BillableRef, period metering.BillingPeriod) (*metering.UsageTotals, error) {
	totals, ok := c.totals.get(totalsKey(billable, period))
	if !ok {
		return nil, nil
	}
	return &totals, nil
}

// SetTotals caches totals for the period
func (c *InMemoryMeteringCache) SetTotals(_ context.Context, billable metering.BillableRef, period metering.BillingPeriod, totals metering.UsageTotals, ttl time.Duration) error {
	c.totals.set(totalsKey(billable, period), totals, ttl)
	return nil
}

// InvalidateTotals drops every cached period of the billable
func (c *InMemoryMeteringCache) InvalidateTotals(_ context.Context, billable metering.BillableRef) error {
	c.totals.deletePrefix(totalsPrefix(billable))
	return nil
}

// GetSubscription returns a copy of the cached subscription, or nil on a miss
func (c *InMemoryMeteringCache) GetSubscription(_ context.Context, billable metering.BillableRef) (*metering.Subscription, error) {
	sub, ok := c.subscriptions.get(subscriptionKey(billable))
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

// SetSubscription caches a copy of the subscription
func (c *InMemoryMeteringCache) SetSubscription(_ context.Context, billable metering.BillableRef, sub *metering.Subscription, ttl time.Duration) error {
	if sub == nil {
		return nil
	}
	c.subscriptions.set(subscriptionKey(billable), *sub, ttl)
	return nil
}

// InvalidateSubscription drops the cached subscription
func (c *InMemoryMeteringCache) InvalidateSubscription(_ context.Context, billable metering.BillableRef) error {
	c.subscriptions.delete(subscriptionKey(billable))
	return nil
}

// Close stops the expiry loops
func (c *InMemoryMeteringCache) Close() error {
	c.totals.close()
	c.subscriptions.close()
	return nil
}

var (
	_ metering.UsageTotalsCache  = (*RedisMeteringCache)(nil)
	_ metering.SubscriptionCache = (*RedisMeteringCache)(nil)
	_ metering.UsageTotalsCache  = (*InMemoryMeteringCache)(nil)
	_ metering.SubscriptionCache = (*InMemoryMeteringCache)(nil)
)
