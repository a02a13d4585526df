package cache

import (
	"context"
	"time"

	"github.com/aimeter/backend/internal/domain/shared"
)

// InMemoryIdempotencyStore implements IdempotencyStore in process memory.
// Processed IDs are not shared across instances.
type InMemoryIdempotencyStore struct {
	ids *expiringMap[struct{}]
}

// NewInMemoryIdempotencyStore creates a new in-memory idempotency store
func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{ids: newExpiringMap[struct{}](5 * time.Minute)}
}

// MarkProcessed marks an ID as processed with a TTL.
// Returns false if the ID was already processed and has not expired
func (s *InMemoryIdempotencyStore) MarkProcessed(_ context.Context, id string, ttl time.Duration) (bool, error) {
	return s.ids.setIfAbsent(id, struct{}{}, ttl), nil
}

// IsProcessed checks if an ID has already been processed
func (s *InMemoryIdempotencyStore) IsProcessed(_ context.Context, id string) (bool, error) {
	_, ok := s.ids.get(id)
	return ok, nil
}

// Close stops the cleanup goroutine
func (s *InMemoryIdempotencyStore) Close() error {
	s.ids.close()
	return nil
}

// Size returns the number of stored IDs, expired ones included until cleanup
func (s *InMemoryIdempotencyStore) Size() int {
	return s.ids.size()
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
