package index

import (
	"context"
	"strings"
	"sync"
)

// Key is an ordered list of key segments, e.g. ["Event", author, id].
type Key []string

// String joins the segments with ':'.
func (k Key) String() string {
	return strings.Join(k, ":")
}

// Cache stores encoded records. Implementations are safe for concurrent
// use. Get reports a miss as (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key Key) ([]byte, bool, error)
	Set(ctx context.Context, key Key, value []byte) error
	Del(ctx context.Context, key Key) error
	Close() error
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]byte)}
}

func (c *MemoryCache) Get(_ context.Context, key Key) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key.String()]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key Key, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key.String()] = append([]byte(nil), value...)
	return nil
}

func (c *MemoryCache) Del(_ context.Context, key Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key.String())
	return nil
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) Close() error { return nil }
