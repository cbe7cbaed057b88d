package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process Cache used in tests. The clock is injectable
// so window-expiry behavior can be tested without sleeping.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	id        string
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

// SetClock replaces the cache's time source.
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *MemoryCache) PutIfAbsent(ctx context.Context, fingerprint, id string, ttl time.Duration) (bool, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[fingerprint]; ok && c.now().Before(entry.expiresAt) {
		// TTL is absolute from first sight: a duplicate never extends it.
		return false, entry.id, nil
	}

	c.entries[fingerprint] = memEntry{id: id, expiresAt: c.now().Add(ttl)}
	return true, id, nil
}

func (c *MemoryCache) Get(ctx context.Context, fingerprint string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[fingerprint]; ok && c.now().Before(entry.expiresAt) {
		return entry.id, nil
	}
	return "", nil
}
