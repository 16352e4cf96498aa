package authz

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultTTL is the permission cache entry lifetime. Small enough that a
// revoked permission is honored almost immediately, large enough to absorb
// request bursts without hammering the store.
const DefaultTTL = 5 * time.Second

type cacheEntry struct {
	permissions Set
	fetchedAt   time.Time
}

// Cache is a per-user, short-TTL cache over a permission Source. Entries
// for different users are independent; a coarse lock guards the map and
// fetches happen outside it, so concurrent misses for the same user may
// fetch twice — the later write simply supersedes the earlier one.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	source  Source
	now     func() time.Time
}

// NewCache creates a Cache over the source. A non-positive ttl means
// DefaultTTL.
func NewCache(source Source, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		source:  source,
		now:     time.Now,
	}
}

// Get returns the user's permission set, fetching from the source when the
// cached entry is absent, expired, or invalidated. Fetch failures propagate
// and are never cached, so the next call retries and the caller can fail
// closed immediately.
func (c *Cache) Get(ctx context.Context, userID string) (Set, error) {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		return entry.permissions, nil
	}

	permissions, err := c.source.Permissions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetching permissions: %w", err)
	}

	set := NewSet(permissions...)
	c.mu.Lock()
	c.entries[userID] = cacheEntry{permissions: set, fetchedAt: c.now()}
	c.mu.Unlock()
	return set, nil
}

// Invalidate drops the user's entry so the next Get refetches regardless of
// remaining TTL. Called when an administrator edits a role's permissions.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
