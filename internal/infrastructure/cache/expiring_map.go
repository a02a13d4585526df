package cache

import (
	"strings"
	"sync"
	"time"
)

const defaultCleanupInterval = 30 * time.Second

// cacheEntry wraps a cached value with expiration time
type cacheEntry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e cacheEntry[T]) isExpired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// expiringMap is a mutex-guarded map whose entries lapse after their TTL.
// A background loop drops expired entries until close is called.
type expiringMap[T any] struct {
	mu        sync.Mutex
	entries   map[string]cacheEntry[T]
	now       func() time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newExpiringMap[T any](cleanupInterval time.Duration) *expiringMap[T] {
	m := &expiringMap[T]{
		entries: make(map[string]cacheEntry[T]),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	if cleanupInterval > 0 {
		m.wg.Add(1)
		go m.cleanupLoop(cleanupInterval)
	}
	return m
}

func (m *expiringMap[T]) get(key string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.isExpired(m.now()) {
		var zero T
		return zero, false
	}
	return e.value, true
}

func (m *expiringMap[T]) set(key string, value T, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = cacheEntry[T]{value: value, expiresAt: m.now().Add(ttl)}
}

// setIfAbsent stores value unless a live entry exists
func (m *expiringMap[T]) setIfAbsent(key string, value T, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[key]; ok && !e.isExpired(now) {
		return false
	}
	m.entries[key] = cacheEntry[T]{value: value, expiresAt: now.Add(ttl)}
	return true
}

// deleteIf removes key when match accepts the stored value
func (m *expiringMap[T]) deleteIf(key string, match func(T) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !match(e.value) {
		return false
	}
	delete(m.entries, key)
	return true
}

func (m *expiringMap[T]) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *expiringMap[T]) deletePrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
			deleted++
		}
	}
	return deleted
}

func (m *expiringMap[T]) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *expiringMap[T]) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.entries {
		if e.isExpired(now) {
			delete(m.entries, key)
		}
	}
}

func (m *expiringMap[T]) cleanupLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// close stops the cleanup loop. Safe to call multiple times.
func (m *expiringMap[T]) close() {
	m.closeOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
	})
}
