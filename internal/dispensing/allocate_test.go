package dispensing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/drfirst/go-dispensary/internal/domain"
)

func batch(id string, expiry string, qty int, price int64) domain.StockItem {
	exp, _ := time.Parse(domain.DateLayout, expiry)
	return domain.StockItem{
		ID:              id,
		DrugID:          "drug-1",
		BatchNumber:     "B-" + id,
		ExpiryDate:      exp,
		QuantityInStock: qty,
		SellingPrice:    decimal.NewFromInt(price),
	}
}

func TestAllocateFEFO_DrawsEarliestExpiryFirst(t *testing.T) {
	batches := []domain.StockItem{
		batch("c", "2031-06-01", 10, 12),
		batch("a", "2031-01-01", 5, 10),
		batch("b", "2031-03-01", 4, 11),
	}

	allocs, shortfall := AllocateFEFO(batches, 7)

	assert.Equal(t, 0, shortfall)
	if assert.Len(t, allocs, 2) {
		assert.Equal(t, "a", allocs[0].StockItemID)
		assert.Equal(t, 5, allocs[0].Quantity)
		assert.Equal(t, "b", allocs[1].StockItemID)
		assert.Equal(t, 2, allocs[1].Quantity)
	}
	assert.True(t, Total(allocs).Equal(decimal.NewFromInt(72)))
	assert.Equal(t, "c", batches[0].ID, "input must not be reordered")
}

func TestAllocateFEFO_ExactFitStopsAtFirstBatch(t *testing.T) {
	allocs, shortfall := AllocateFEFO([]domain.StockItem{
		batch("a", "2031-01-01", 5, 10),
		batch("b", "2031-02-01", 5, 10),
	}, 5)

	assert.Equal(t, 0, shortfall)
	assert.Len(t, allocs, 1)
}

func TestAllocateFEFO_ReportsShortfall(t *testing.T) {
	batches := []domain.StockItem{
		batch("a", "2031-01-01", 3, 10),
		batch("b", "2031-02-01", 1, 10),
	}

	_, shortfall := AllocateFEFO(batches, 10)

	assert.Equal(t, 6, shortfall)
	assert.Equal(t, 4, available(batches))
}

func TestAllocateFEFO_TiesBreakOnCreatedAt(t *testing.T) {
	older := batch("z", "2031-01-01", 2, 10)
	older.CreatedAt = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := batch("a", "2031-01-01", 2, 20)
	newer.CreatedAt = time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)

	allocs, _ := AllocateFEFO([]domain.StockItem{newer, older}, 1)

	if assert.Len(t, allocs, 1) {
		assert.Equal(t, "z", allocs[0].StockItemID)
	}
}

func TestAllocateFEFO_SkipsEmptyBatches(t *testing.T) {
	allocs, shortfall := AllocateFEFO([]domain.StockItem{
		batch("a", "2031-01-01", 0, 10),
		batch("b", "2031-02-01", 3, 10),
	}, 2)

	assert.Equal(t, 0, shortfall)
	if assert.Len(t, allocs, 1) {
		assert.Equal(t, "b", allocs[0].StockItemID)
	}
}
