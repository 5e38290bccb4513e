package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for calendar dates such as expiry dates
const DateLayout = "2006-01-02"

// earliestExpiry rejects dates that can only be typos or zero values
var earliestExpiry = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// StockItem is one purchased batch of a drug. Only dispensing mutates it.
type StockItem struct {
	ID              string          `json:"id"`
	DrugID          string          `json:"drugId"`
	DrugName        string          `json:"drugName,omitempty"`
	BatchNumber     string          `json:"batchNumber"`
	ExpiryDate      time.Time       `json:"expiryDate"`
	QuantityInStock int             `json:"quantityInStock"`
	PurchasePrice   decimal.Decimal `json:"purchasePrice"`
	SellingPrice    decimal.Decimal `json:"sellingPrice"`
	SupplierID      *string         `json:"supplierId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Expired reports whether the batch expiry date is before the day of now
func (s StockItem) Expired(now time.Time) bool {
	return s.ExpiryDate.Before(truncateDay(now))
}

// SortFEFO orders batches first-expiry-first-out. Ties fall back to the
// oldest batch, then id, so the order is total.
func SortFEFO(items []StockItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.ExpiryDate.Equal(b.ExpiryDate) {
			return a.ExpiryDate.Before(b.ExpiryDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// RestockRequest is the input to adding a stock batch
type RestockRequest struct {
	DrugID        string          `json:"drugId"`
	BatchNumber   string          `json:"batchNumber"`
	ExpiryDate    string          `json:"expiryDate"`
	Quantity      int             `json:"quantityInStock"`
	PurchasePrice decimal.Decimal `json:"purchasePrice"`
	SellingPrice  decimal.Decimal `json:"sellingPrice"`
	SupplierID    *string         `json:"supplierId,omitempty"`
}

// Validate checks the request and returns the parsed expiry date. A past
// expiry date is accepted; only unparseable or implausible dates are rejected.
func (r *RestockRequest) Validate() (time.Time, error) {
	r.DrugID = strings.TrimSpace(r.DrugID)
	r.BatchNumber = strings.TrimSpace(r.BatchNumber)
	if r.DrugID == "" {
		return time.Time{}, Invalid("drugId", "is required")
	}
	if r.BatchNumber == "" {
		return time.Time{}, Invalid("batchNumber", "is required")
	}
	if r.Quantity <= 0 {
		return time.Time{}, Invalid("quantityInStock", "must be greater than zero")
	}
	if !r.SellingPrice.IsPositive() {
		return time.Time{}, Invalid("sellingPrice", "must be greater than zero")
	}
	if r.PurchasePrice.IsNegative() {
		return time.Time{}, Invalid("purchasePrice", "must not be negative")
	}
	expiry, err := ParseDate(r.ExpiryDate)
	if err != nil {
		return time.Time{}, Invalid("expiryDate", "%v", err)
	}
	if expiry.Before(earliestExpiry) {
		return time.Time{}, Invalid("expiryDate", "%s is not a plausible expiry date", r.ExpiryDate)
	}
	return expiry, nil
}

// ParseDate accepts YYYY-MM-DD or a full RFC3339 timestamp and returns the
// UTC calendar day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, Invalid("", "is required")
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, Invalid("", "expected YYYY-MM-DD, got %q", s)
	}
	return truncateDay(t), nil
}

// StockSummary aggregates the batches of one drug
type StockSummary struct {
	DrugID         string     `json:"drugId"`
	DrugName       string     `json:"drugName"`
	DosageForm     DosageForm `json:"dosageForm"`
	TotalQuantity  int        `json:"totalQuantity"`
	ActiveBatches  int        `json:"activeBatches"`
	EarliestExpiry *time.Time `json:"earliestExpiry,omitempty"`
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
