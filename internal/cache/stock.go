// Package cache keeps derived stock views in Redis. A nil cache is valid and
// always misses.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/observability/metrics"
)

// StockSummaryKey holds the serialized per-drug stock summary
const StockSummaryKey = "pharmacy:stock:summary"

// StockSummaryCache caches the stock summary with a TTL and drops it
// whenever stock changes
type StockSummaryCache struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewStockSummaryCache wraps client. m may be nil.
func NewStockSummaryCache(client *redis.Client, ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) *StockSummaryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &StockSummaryCache{client: client, ttl: ttl, metrics: m, logger: logger}
}

// Connect opens a Redis client and pings it
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Get returns the cached summary. ok is false on a miss.
func (c *StockSummaryCache) Get(ctx context.Context) (summary []domain.StockSummary, ok bool, err error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}

	val, err := c.client.Get(ctx, StockSummaryKey).Bytes()
	if errors.Is(err, redis.Nil) {
		c.metrics.CacheLookup(false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get stock summary: %w", err)
	}

	if err := json.Unmarshal(val, &summary); err != nil {
		c.logger.Warn("discarding corrupt stock summary cache entry", zap.Error(err))
		c.client.Del(ctx, StockSummaryKey)
		c.metrics.CacheLookup(false)
		return nil, false, nil
	}
	c.metrics.CacheLookup(true)
	return summary, true, nil
}

// Set stores the summary for the configured TTL
func (c *StockSummaryCache) Set(ctx context.Context, summary []domain.StockSummary) error {
	if c == nil || c.client == nil {
		return nil
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal stock summary: %w", err)
	}
	if err := c.client.Set(ctx, StockSummaryKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set stock summary: %w", err)
	}
	return nil
}

// Invalidate drops the cached summary
func (c *StockSummaryCache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, StockSummaryKey).Err(); err != nil {
		return fmt.Errorf("invalidate stock summary: %w", err)
	}
	return nil
}
