// Package dispensing turns a PENDING prescription into deducted stock and a
// bill in one transaction, drawing every drug first-expiry-first-out.
package dispensing

import (
	"github.com/shopspring/decimal"

	"github.com/drfirst/go-dispensary/internal/domain"
)

// AllocateFEFO plans how requested units are drawn from batches. Batches are
// consumed in expiry order, each contributing min(its stock, what remains).
// The input is not modified. A positive shortfall means the batches could
// not cover the request and the returned allocations must not be applied.
func AllocateFEFO(batches []domain.StockItem, requested int) ([]domain.Allocation, int) {
	ordered := make([]domain.StockItem, len(batches))
	copy(ordered, batches)
	domain.SortFEFO(ordered)

	remaining := requested
	var allocs []domain.Allocation
	for _, b := range ordered {
		if remaining == 0 {
			break
		}
		if b.QuantityInStock <= 0 {
			continue
		}
		take := b.QuantityInStock
		if remaining < take {
			take = remaining
		}
		allocs = append(allocs, domain.Allocation{
			StockItemID: b.ID,
			BatchNumber: b.BatchNumber,
			DrugID:      b.DrugID,
			ExpiryDate:  b.ExpiryDate,
			Quantity:    take,
			UnitPrice:   b.SellingPrice,
		})
		remaining -= take
	}
	return allocs, remaining
}

// Total sums the allocation amounts
func Total(allocs []domain.Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.Amount())
	}
	return total
}

func available(batches []domain.StockItem) int {
	n := 0
	for _, b := range batches {
		if b.QuantityInStock > 0 {
			n += b.QuantityInStock
		}
	}
	return n
}
