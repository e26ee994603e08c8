// Package cache keeps the event-type catalog in Redis. Per-document views
// are never cached.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/auditlens/auditlens/internal/audit/query"
	"github.com/auditlens/auditlens/pkg/logger"
	"github.com/auditlens/auditlens/pkg/metrics"
	pkgredis "github.com/auditlens/auditlens/pkg/redis"
)

const keyPrefix = "auditlens:event-types:"

// Store is the subset of *pkgredis.Client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type CatalogCache struct {
	store   Store
	ttl     time.Duration
	key     string
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a catalog cache. catalogSize is part of the key so a change
// of the configured bucket count never serves a stale shape. m may be nil.
func New(store Store, ttl time.Duration, catalogSize int, m *metrics.Metrics) *CatalogCache {
	return &CatalogCache{
		store:   store,
		ttl:     ttl,
		key:     fmt.Sprintf("%ssize=%d", keyPrefix, catalogSize),
		metrics: m,
		logger:  logger.WithComponent("catalog-cache"),
	}
}

// Get returns the cached catalog. Store failures are logged and reported
// as a miss.
func (c *CatalogCache) Get(ctx context.Context) ([]query.EventTypeCount, bool) {
	data, err := c.store.Get(ctx, c.key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", c.key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var counts []query.EventTypeCount
	if err := json.Unmarshal([]byte(data), &counts); err != nil {
		c.logger.Error("cache unmarshal failed", "key", c.key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return counts, true
}

func (c *CatalogCache) Set(ctx context.Context, counts []query.EventTypeCount) {
	data, err := json.Marshal(counts)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", c.key, "error", err)
		return
	}
	if err := c.store.Set(ctx, c.key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", c.key, "error", err)
	}
}

// GetOrCompute serves the catalog from the store, or runs computeFn once
// for all concurrent callers and stores its result. cached reports whether
// the value came from the store.
func (c *CatalogCache) GetOrCompute(
	ctx context.Context,
	computeFn func(ctx context.Context) ([]query.EventTypeCount, error),
) (counts []query.EventTypeCount, cached bool, err error) {
	if counts, ok := c.Get(ctx); ok {
		return counts, true, nil
	}
	val, err, _ := c.group.Do(c.key, func() (any, error) {
		counts, err := computeFn(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(ctx, counts)
		return counts, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]query.EventTypeCount), false, nil
}

// Invalidate removes every cached catalog.
func (c *CatalogCache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating catalog cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *CatalogCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *CatalogCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
