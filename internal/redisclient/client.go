package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AcquireLock takes a short-lived exclusive lock. Used to keep a disbursement
// episode and a reconciliation sweep from interleaving gateway calls for the
// same ledger entry.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}

// MarkSeen records a processed marker with TTL. Lets webhook ingestion skip
// the database dedup read for rapid-fire gateway redeliveries.
func (c *Client) MarkSeen(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("seen:%s", key), "1", ttl).Err()
}

// WasSeen checks for a processed marker
func (c *Client) WasSeen(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, fmt.Sprintf("seen:%s", key)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}
