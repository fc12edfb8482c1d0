// Package lru provides the bounded least-recently-used result cache shared by
// the server and the proxy. Each process role owns its own instance.
package lru

import (
	"errors"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pario-ai/linecompute/pkg/models"
)

// ErrInvalidCapacity is returned for a non-positive capacity.
var ErrInvalidCapacity = errors.New("cache capacity must be positive")

// Cache maps canonical request keys to previously computed results.
// It is safe for concurrent use; every Get and Set is atomic.
type Cache struct {
	items    *lru.Cache[string, any]
	capacity int

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a Cache holding at most capacity entries.
func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	items, err := lru.New[string, any](capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Cache{items: items, capacity: capacity}, nil
}

// Get returns the value stored under key and marks it most recently used.
func (c *Cache) Get(key string) (any, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return v, true
}

// Set stores value under key as the most recently used entry, evicting the
// least recently used entry if the cache is full.
func (c *Cache) Set(key string, value any) {
	if c.items.Add(key, value) {
		c.evictions.Add(1)
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.items.Len()
}

// Capacity returns the maximum number of entries.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Keys returns the cached keys from least to most recently used.
func (c *Cache) Keys() []string {
	return c.items.Keys()
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() models.CacheStats {
	s := models.CacheStats{
		Entries:   c.items.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
