package domain

import (
	"context"
	"time"
)

// Cache keeps rated batches close to the views that read them, and
// holds the windowed counters behind upload quotas. Every key is scoped by
// tenant.
type Cache interface {
	// GetBatch returns a cached batch, or nil, nil on a miss.
	GetBatch(ctx context.Context, tenantID string, batchID string) (*Batch, error)

	// SetBatch caches a rated batch for ttl.
	SetBatch(ctx context.Context, tenantID string, batch *Batch, ttl time.Duration) error

	// InvalidateBatch drops a cached batch. Missing batches are not an error.
	InvalidateBatch(ctx context.Context, tenantID string, batchID string) error

	// IncrementCounter adds one to a fixed-window counter and returns the
	// new count. The window starts with the first increment.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and sizes the batch cache.
type CacheConfig struct {
	// Type is "memory" or "redis".
	Type string

	// LocalMaxSize bounds the in-process cache in batches. LocalTTL caps
	// how long the local tier of a two-tier cache keeps a batch.
	LocalMaxSize int
	LocalTTL     time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoTier fronts Redis with the in-process cache.
	EnableTwoTier bool

	// BatchTTL is how long rated batches stay cached.
	BatchTTL time.Duration
}
