// Package cache keeps rated batches and quota counters for Kestrel.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LRUCache is the in-process batch cache. It serves the Community tier and
// the local tier of a TieredCache. Batches are stored encoded, so callers
// never share a cached value.
type LRUCache struct {
	mu       sync.Mutex
	maxSize  int
	items    map[string]*list.Element
	order    *list.List
	counters map[string]*window

	hits, misses, evictions int64
}

type lruEntry struct {
	key       string
	data      []byte
	expiresAt time.Time
}

type window struct {
	count int64
	ends  time.Time
}

// Stats describes the occupancy and hit rate of an LRUCache.
type Stats struct {
	Entries   int   `json:"entries"`
	Capacity  int   `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// NewLRUCache creates a cache holding at most maxSize batches. A
// non-positive size defaults to 256.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &LRUCache{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		counters: make(map[string]*window),
	}
}

// GetBatch returns the cached batch, or nil on a miss or expiry.
func (c *LRUCache) GetBatch(ctx context.Context, tenantID string, batchID string) (*domain.Batch, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	data, ok := c.lookup(batchKey(tenantID, batchID))
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return decodeBatch(data)
}

func (c *LRUCache) lookup(key string) ([]byte, bool) {
	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := elem.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		c.remove(elem)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(elem)
	c.hits++
	return entry.data, true
}

// SetBatch caches batch under its ID for ttl, evicting the least recently
// read batches past capacity.
func (c *LRUCache) SetBatch(ctx context.Context, tenantID string, batch *domain.Batch, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	data, err := encodeBatch(batch, false)
	if err != nil {
		return err
	}

	key := batchKey(tenantID, batch.ID)
	expiresAt := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.data = data
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return nil
	}

	c.items[key] = c.order.PushFront(&lruEntry{key: key, data: data, expiresAt: expiresAt})
	for c.order.Len() > c.maxSize {
		c.remove(c.order.Back())
		c.evictions++
	}
	return nil
}

// InvalidateBatch drops a cached batch.
func (c *LRUCache) InvalidateBatch(ctx context.Context, tenantID string, batchID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[batchKey(tenantID, batchID)]; ok {
		c.remove(elem)
	}
	return nil
}

// IncrementCounter counts one event in the tenant's current window.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, span time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	full := counterKey(tenantID, key)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.counters[full]
	if !ok || !now.Before(w.ends) {
		if len(c.counters) >= c.maxSize {
			c.sweepCounters(now)
		}
		c.counters[full] = &window{count: 1, ends: now.Add(span)}
		return 1, nil
	}
	w.count++
	return w.count, nil
}

func (c *LRUCache) sweepCounters(now time.Time) {
	for k, w := range c.counters {
		if !now.Before(w.ends) {
			delete(c.counters, k)
		}
	}
}

// Ping always succeeds.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close empties the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.counters = make(map[string]*window)
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   c.order.Len(),
		Capacity:  c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *LRUCache) remove(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*lruEntry).key)
}
