package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/redis/go-redis/v9"
)

// incrWindow increments KEYS[1] and starts its expiry on the first hit.
var incrWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisCache shares rated batches and upload quotas across API replicas.
// Entries above one kilobyte are zstd-compressed.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to addr and pings it.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisCache{client: client}, nil
}

// GetBatch reads and decodes a batch. A corrupt entry is deleted and
// reported as a miss.
func (c *RedisCache) GetBatch(ctx context.Context, tenantID string, batchID string) (*domain.Batch, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	key := batchKey(tenantID, batchID)
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	b, err := decodeBatch(data)
	if errors.Is(err, ErrCorruptEntry) {
		_ = c.client.Del(ctx, key).Err()
		return nil, nil
	}
	return b, err
}

// SetBatch stores batch for ttl.
func (c *RedisCache) SetBatch(ctx context.Context, tenantID string, batch *domain.Batch, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	data, err := encodeBatch(batch, true)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, batchKey(tenantID, batch.ID), data, ttl).Err()
}

// InvalidateBatch deletes a cached batch.
func (c *RedisCache) InvalidateBatch(ctx context.Context, tenantID string, batchID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return c.client.Del(ctx, batchKey(tenantID, batchID)).Err()
}

// IncrementCounter counts one event in a window shared by every replica.
func (c *RedisCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}
	return incrWindow.Run(ctx, c.client, []string{counterKey(tenantID, key)}, window.Milliseconds()).Int64()
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
