package dispensing

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/observability/metrics"
	"github.com/drfirst/go-dispensary/internal/store"
)

// CacheInvalidator drops derived stock views after stock changes
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Result is the outcome of a successful dispense
type Result struct {
	Prescription *domain.Prescription
	Bill         *domain.Bill
	TotalBill    decimal.Decimal
	Allocations  []domain.Allocation
}

// Units is the number of stock units deducted
func (r *Result) Units() int {
	n := 0
	for _, a := range r.Allocations {
		n += a.Quantity
	}
	return n
}

// Engine dispenses prescriptions
type Engine struct {
	store   store.Store
	metrics *metrics.Metrics
	cache   CacheInvalidator
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithMetrics records dispense outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCache invalidates c after every committed dispense
func WithCache(c CacheInvalidator) Option {
	return func(e *Engine) { e.cache = c }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a dispensing engine over s
func NewEngine(s store.Store, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:  s,
		logger: logger,
		tracer: otel.Tracer("dispensing"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dispense deducts every line of a PENDING prescription from stock in FEFO
// order, issues its bill and marks it DISPENSED. Either all of that commits
// or none of it does.
//
// NotFound, AlreadyDispensed and InsufficientStock errors are returned as is.
// Any other failure is a *domain.TransactionError.
func (e *Engine) Dispense(ctx context.Context, actor domain.Actor, prescriptionID string) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "dispense_prescription",
		trace.WithAttributes(
			attribute.String("prescription_id", prescriptionID),
			attribute.String("user_id", actor.UserID),
		))
	defer span.End()

	start := time.Now()
	var result *Result

	err := e.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := e.dispense(ctx, tx, actor, prescriptionID)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		err = classify(err)
		e.metrics.DispenseFailed(reason(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, reason(err))
		e.logFailure(prescriptionID, err)
		return nil, err
	}

	billed, _ := result.TotalBill.Float64()
	e.metrics.Dispensed(result.Units(), billed, time.Since(start))
	span.SetAttributes(
		attribute.String("bill_id", result.Bill.ID),
		attribute.String("total_bill", result.TotalBill.StringFixed(2)),
		attribute.Int("allocations", len(result.Allocations)),
	)

	if e.cache != nil {
		if err := e.cache.Invalidate(ctx); err != nil {
			e.logger.Warn("stock cache invalidation failed", zap.Error(err))
		}
	}

	e.logger.Info("prescription dispensed",
		zap.String("prescription_id", prescriptionID),
		zap.String("bill_id", result.Bill.ID),
		zap.String("total_bill", result.TotalBill.StringFixed(2)),
		zap.String("user_id", actor.UserID))

	return result, nil
}

func (e *Engine) dispense(ctx context.Context, tx store.Tx, actor domain.Actor, prescriptionID string) (*Result, error) {
	p, err := tx.LockPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	if p.Dispensed() {
		return nil, domain.ErrAlreadyDispensed
	}

	// Batches are locked drug by drug in id order so two dispenses sharing
	// drugs cannot deadlock.
	lines := append([]domain.PrescribedDrug(nil), p.Lines...)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].DrugID < lines[j].DrugID })

	var allocations []domain.Allocation
	for _, line := range lines {
		batches, err := tx.LockDispensableBatches(ctx, line.DrugID)
		if err != nil {
			return nil, err
		}
		allocs, shortfall := AllocateFEFO(batches, line.Quantity)
		if shortfall > 0 {
			return nil, &domain.InsufficientStockError{
				DrugID:    line.DrugID,
				DrugName:  line.DrugName,
				Requested: line.Quantity,
				Available: available(batches),
			}
		}
		for _, a := range allocs {
			if err := tx.DeductStock(ctx, a.StockItemID, a.Quantity); err != nil {
				return nil, err
			}
		}
		allocations = append(allocations, allocs...)
	}

	now := e.now()
	bill := &domain.Bill{
		ID:             uuid.New().String(),
		PrescriptionID: p.ID,
		TotalAmount:    Total(allocations),
		IssuedAt:       now,
	}
	if err := tx.InsertBill(ctx, bill); err != nil {
		return nil, err
	}
	if err := tx.MarkDispensed(ctx, p.ID, actor.UserID, now); err != nil {
		return nil, err
	}

	drugIDs := make([]string, 0, len(lines))
	for _, line := range lines {
		drugIDs = append(drugIDs, line.DrugID)
	}
	event, err := domain.NewEvent("prescription", p.ID, domain.EventPrescriptionDispensed, domain.PrescriptionDispensedData{
		PrescriptionID: p.ID,
		BillID:         bill.ID,
		TotalAmount:    bill.TotalAmount,
		DispensedBy:    actor.UserID,
		DispensedAt:    now,
		DrugIDs:        drugIDs,
		Allocations:    allocations,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.AppendEvent(ctx, event.WithActor(actor)); err != nil {
		return nil, err
	}

	by := actor.UserID
	p.Status = domain.StatusDispensed
	p.DispensedAt = &now
	p.DispensedBy = &by
	p.Bill = bill

	return &Result{
		Prescription: p,
		Bill:         bill,
		TotalBill:    bill.TotalAmount,
		Allocations:  allocations,
	}, nil
}

// classify keeps the caller-facing errors intact and wraps everything else
func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrAlreadyDispensed),
		errors.Is(err, domain.ErrInsufficientStock):
		return err
	case errors.Is(err, domain.ErrConflict):
		// a concurrent dispense won the race for the bill row
		return domain.ErrAlreadyDispensed
	}
	return &domain.TransactionError{Op: "dispense", Err: err}
}

func reason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAlreadyDispensed):
		return "already_dispensed"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	}
	return "transaction"
}

func (e *Engine) logFailure(prescriptionID string, err error) {
	if errors.Is(err, domain.ErrTransaction) {
		e.logger.Error("dispense rolled back",
			zap.String("prescription_id", prescriptionID),
			zap.Error(err))
		return
	}
	e.logger.Info("dispense rejected",
		zap.String("prescription_id", prescriptionID),
		zap.String("reason", reason(err)),
		zap.Error(err))
}
