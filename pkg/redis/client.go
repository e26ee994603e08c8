// Package redis wraps go-redis/v9 with the string get/set and pattern
// invalidation the catalog cache needs.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/auditlens/auditlens/pkg/config"
)

const scanBatch = 100

type Client struct {
	rdb  *redis.Client
	addr string
}

// NewClient connects and verifies the connection with a PING bounded by
// ctx and a five second ceiling.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb, addr: cfg.Addr}, nil
}

// Get returns redis.Nil (see IsNilError) for a missing key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// FlushByPattern unlinks every key matching the glob pattern and returns
// how many were removed.
func (c *Client) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	var (
		deleted int64
		batch   = make([]string, 0, scanBatch)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Unlink(ctx, batch...).Result()
		deleted += n
		batch = batch[:0]
		return err
	}

	iter := c.rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return deleted, fmt.Errorf("unlinking keys for %s: %w", pattern, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scanning %s: %w", pattern, err)
	}
	if err := flush(); err != nil {
		return deleted, fmt.Errorf("unlinking keys for %s: %w", pattern, err)
	}
	return deleted, nil
}

// IsNilError reports whether err means the key does not exist.
func IsNilError(err error) bool {
	return errors.Is(err, redis.Nil)
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", c.addr, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
