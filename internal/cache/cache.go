package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New builds the cache named by cfg.Type. A Redis cache is fronted by an
// LRU when cfg.EnableTwoTier is set.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory", "":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		if !cfg.EnableTwoTier {
			return remote, nil
		}
		return NewTieredCache(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TieredCache reads batches from a local cache before a shared one. Local
// copies live at most localTTL, which bounds how stale a replica can be
// after another replica invalidates a batch.
type TieredCache struct {
	local    *LRUCache
	remote   domain.Cache
	localTTL time.Duration
}

// NewTieredCache fronts remote with local. A zero localTTL defaults to
// five minutes.
func NewTieredCache(local *LRUCache, remote domain.Cache, localTTL time.Duration) *TieredCache {
	if localTTL <= 0 {
		localTTL = 5 * time.Minute
	}
	return &TieredCache{local: local, remote: remote, localTTL: localTTL}
}

// GetBatch tries the local tier, then the remote one, and keeps remote hits
// locally.
func (c *TieredCache) GetBatch(ctx context.Context, tenantID string, batchID string) (*domain.Batch, error) {
	b, err := c.local.GetBatch(ctx, tenantID, batchID)
	if err != nil || b != nil {
		return b, err
	}

	b, err = c.remote.GetBatch(ctx, tenantID, batchID)
	if err != nil || b == nil {
		return nil, err
	}
	_ = c.local.SetBatch(ctx, tenantID, b, c.localTTL)
	return b, nil
}

// SetBatch writes the remote tier for ttl and the local one for at most
// localTTL.
func (c *TieredCache) SetBatch(ctx context.Context, tenantID string, batch *domain.Batch, ttl time.Duration) error {
	if err := c.remote.SetBatch(ctx, tenantID, batch, ttl); err != nil {
		return err
	}
	return c.local.SetBatch(ctx, tenantID, batch, min(ttl, c.localTTL))
}

// InvalidateBatch drops the batch from both tiers.
func (c *TieredCache) InvalidateBatch(ctx context.Context, tenantID string, batchID string) error {
	if err := c.local.InvalidateBatch(ctx, tenantID, batchID); err != nil {
		return err
	}
	return c.remote.InvalidateBatch(ctx, tenantID, batchID)
}

// IncrementCounter always goes to the remote tier so quotas hold across
// replicas.
func (c *TieredCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, tenantID, key, window)
}

// Ping checks both tiers.
func (c *TieredCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("local cache: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("remote cache: %w", err)
	}
	return nil
}

// Close closes both tiers.
func (c *TieredCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats reports the local tier.
func (c *TieredCache) Stats() Stats {
	return c.local.Stats()
}

// Keys carry the tenant in a Redis hash tag, so one tenant's keys share a
// cluster slot.
func batchKey(tenantID, batchID string) string {
	return "kestrel:{" + tenantID + "}:batch:" + batchID
}

func counterKey(tenantID, name string) string {
	return "kestrel:{" + tenantID + "}:quota:" + name
}
