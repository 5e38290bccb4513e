// Package billing reads the pharmacy bills issued by dispensing
package billing

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/store"
)

// Range names a reporting period ending now
type Range string

const (
	RangeToday Range = "today"
	RangeWeek  Range = "week"
	RangeMonth Range = "month"
)

// Service answers billing queries
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService creates the service
func NewService(s store.Store) *Service {
	return &Service{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// List returns bills issued in [from, to)
func (s *Service) List(ctx context.Context, from, to time.Time) ([]domain.Bill, error) {
	if !to.After(from) {
		return nil, domain.Invalid("to", "must be after from")
	}
	bills, err := s.store.ListBills(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if bills == nil {
		bills = []domain.Bill{}
	}
	return bills, nil
}

// Income sums bills for a named range. Today starts at midnight UTC, week
// covers the last seven days including today and month starts on the first.
func (s *Service) Income(ctx context.Context, r Range) (*domain.IncomeSummary, error) {
	from, to, err := s.Bounds(r)
	if err != nil {
		return nil, err
	}
	bills, err := s.store.ListBills(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return summarize(from, to, bills), nil
}

// Bounds resolves a named range to [from, to)
func (s *Service) Bounds(r Range) (time.Time, time.Time, error) {
	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	tomorrow := today.AddDate(0, 0, 1)

	switch Range(strings.ToLower(string(r))) {
	case RangeToday, "":
		return today, tomorrow, nil
	case RangeWeek:
		return today.AddDate(0, 0, -6), tomorrow, nil
	case RangeMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), tomorrow, nil
	}
	return time.Time{}, time.Time{}, domain.Invalid("range", "expected today, week or month, got %q", r)
}

// MonthBounds parses YYYY-MM into [first of month, first of next month)
func MonthBounds(month string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01", strings.TrimSpace(month))
	if err != nil {
		return time.Time{}, time.Time{}, domain.Invalid("month", "expected YYYY-MM, got %q", month)
	}
	return start, start.AddDate(0, 1, 0), nil
}

func summarize(from, to time.Time, bills []domain.Bill) *domain.IncomeSummary {
	total := decimal.Zero
	for _, b := range bills {
		total = total.Add(b.TotalAmount)
	}
	return &domain.IncomeSummary{From: from, To: to, BillCount: len(bills), Total: total}
}
