package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache реализует domain.Cache в памяти для dev-окружения и тестов.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemory создаёт кэш в памяти.
func NewMemory() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) alive(key string, now time.Time) (memoryEntry, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && entry.expiresAt.Before(now) {
		delete(c.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

// Once возвращает true, если ключ ещё не был задан, и помечает его на ttl.
func (c *MemoryCache) Once(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if _, ok := c.alive(key, now); ok {
		return false, nil
	}
	c.entries[key] = memoryEntry{value: []byte("1"), expiresAt: now.Add(ttl)}
	return true, nil
}

// Set задаёт значение.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	expires := time.Time{}
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	c.entries[key] = memoryEntry{value: append([]byte(nil), value...), expiresAt: expires}
	return nil
}

// Get возвращает значение либо nil, если ключ не задан.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.alive(key, time.Now())
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), entry.value...), nil
}

// Delete снимает ключ.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}
