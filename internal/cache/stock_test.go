package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/observability/metrics"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *StockSummaryCache, *metrics.Metrics) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	m := metrics.New(prometheus.NewRegistry())
	return mr, NewStockSummaryCache(client, 30*time.Second, m, zap.NewNop()), m
}

func TestStockSummaryCache_RoundTripAndExpiry(t *testing.T) {
	mr, c, _ := setupTestRedis(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	expiry := time.Date(2031, 1, 31, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.Set(ctx, []domain.StockSummary{
		{DrugID: "d1", DrugName: "Amoxicillin", DosageForm: domain.FormCapsule, TotalQuantity: 15, ActiveBatches: 2, EarliestExpiry: &expiry},
	}))

	got, ok, err := c.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, 15, got[0].TotalQuantity)
	assert.True(t, got[0].EarliestExpiry.Equal(expiry))

	mr.FastForward(31 * time.Second)
	_, ok, err = c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStockSummaryCache_Invalidate(t *testing.T) {
	mr, c, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, []domain.StockSummary{{DrugID: "d1"}}))
	assert.True(t, mr.Exists(StockSummaryKey))

	require.NoError(t, c.Invalidate(ctx))
	assert.False(t, mr.Exists(StockSummaryKey))
}

func TestStockSummaryCache_CorruptEntryIsAMiss(t *testing.T) {
	mr, c, _ := setupTestRedis(t)
	require.NoError(t, mr.Set(StockSummaryKey, "{not json"))

	_, ok, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists(StockSummaryKey))
}

func TestStockSummaryCache_NilIsANoop(t *testing.T) {
	var c *StockSummaryCache
	ctx := context.Background()

	_, ok, err := c.Get(ctx)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Set(ctx, nil))
	assert.NoError(t, c.Invalidate(ctx))
}
