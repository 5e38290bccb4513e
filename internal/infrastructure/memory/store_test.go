package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/store"
)

func seedBatch(t *testing.T, s *Store, qty int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateDrug(ctx, &domain.Drug{ID: "d1", Name: "Amoxicillin", DosageForm: domain.FormTablet}))
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertStockItem(ctx, &domain.StockItem{
			ID:              "s1",
			DrugID:          "d1",
			BatchNumber:     "B1",
			ExpiryDate:      time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
			QuantityInStock: qty,
			SellingPrice:    decimal.NewFromInt(3),
		})
	}))
}

func TestInTx_RollsBackOnError(t *testing.T) {
	s := New()
	seedBatch(t, s, 10)
	boom := errors.New("boom")

	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.DeductStock(ctx, "s1", 4))
		return boom
	})
	require.ErrorIs(t, err, boom)

	item, ok := s.StockItem("s1")
	require.True(t, ok)
	assert.Equal(t, 10, item.QuantityInStock)
}

func TestDeductStock_NeverGoesNegativeUnderContention(t *testing.T) {
	s := New()
	seedBatch(t, s, 25)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				return tx.DeductStock(ctx, "s1", 3)
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, store.ErrStaleStock)
		}()
	}
	wg.Wait()

	total, negative := s.sumQuantities("d1")
	assert.False(t, negative)
	assert.Equal(t, 8, succeeded)
	assert.Equal(t, 1, total)
}

func TestInTx_HonoursCanceledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.InTx(ctx, func(context.Context, store.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestLockDispensableBatches_SkipsEmptyBatches(t *testing.T) {
	s := New()
	seedBatch(t, s, 2)
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.DeductStock(ctx, "s1", 2)
	}))

	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		batches, err := tx.LockDispensableBatches(ctx, "d1")
		require.NoError(t, err)
		assert.Empty(t, batches)
		return nil
	})
	require.NoError(t, err)

	all, err := s.ListStockItems(context.Background(), "d1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Amoxicillin", all[0].DrugName)
}
