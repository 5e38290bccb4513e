// Package inventory manages the drug catalog and stock batches
package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-dispensary/internal/cache"
	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/observability/metrics"
	"github.com/drfirst/go-dispensary/internal/store"
)

// Service is the inventory store's application layer
type Service struct {
	store   store.Store
	cache   *cache.StockSummaryCache
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService creates the service. c and m may be nil.
func NewService(s store.Store, c *cache.StockSummaryCache, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   s,
		cache:   c,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("inventory"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateDrug adds a catalog entry
func (s *Service) CreateDrug(ctx context.Context, d domain.Drug) (*domain.Drug, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	d.ID = uuid.New().String()
	d.CreatedAt = s.now()
	if err := s.store.CreateDrug(ctx, &d); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	s.logger.Info("drug created", zap.String("drug_id", d.ID), zap.String("name", d.Name))
	return &d, nil
}

// UpdateDrug renames a drug or changes its dosage form
func (s *Service) UpdateDrug(ctx context.Context, id string, d domain.Drug) (*domain.Drug, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	d.ID = id
	if err := s.store.UpdateDrug(ctx, &d); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return &d, nil
}

// DeleteDrug removes a drug no batch or prescription refers to
func (s *Service) DeleteDrug(ctx context.Context, id string) error {
	if err := s.store.DeleteDrug(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.logger.Info("drug deleted", zap.String("drug_id", id))
	return nil
}

// ListDrugs returns the catalog
func (s *Service) ListDrugs(ctx context.Context) ([]domain.Drug, error) {
	return s.store.ListDrugs(ctx)
}

// GetDrug returns one catalog entry
func (s *Service) GetDrug(ctx context.Context, id string) (*domain.Drug, error) {
	return s.store.GetDrug(ctx, id)
}

// AddStockBatch records a received batch. The drug must exist; a past expiry
// date is accepted and the batch is flagged by the stock monitor instead.
func (s *Service) AddStockBatch(ctx context.Context, actor domain.Actor, req domain.RestockRequest) (*domain.StockItem, error) {
	ctx, span := s.tracer.Start(ctx, "add_stock_batch",
		trace.WithAttributes(
			attribute.String("drug_id", req.DrugID),
			attribute.String("batch_number", req.BatchNumber),
		))
	defer span.End()

	expiry, err := req.Validate()
	if err != nil {
		return nil, err
	}

	item := &domain.StockItem{
		ID:              uuid.New().String(),
		DrugID:          req.DrugID,
		BatchNumber:     req.BatchNumber,
		ExpiryDate:      expiry,
		QuantityInStock: req.Quantity,
		PurchasePrice:   req.PurchasePrice,
		SellingPrice:    req.SellingPrice,
		SupplierID:      req.SupplierID,
		CreatedAt:       s.now(),
	}

	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		drug, err := tx.GetDrug(ctx, req.DrugID)
		if err != nil {
			return err
		}
		item.DrugName = drug.Name
		if err := tx.InsertStockItem(ctx, item); err != nil {
			return err
		}
		event, err := domain.NewEvent("stock_item", item.ID, domain.EventStockBatchAdded, domain.StockBatchAddedData{
			StockItemID: item.ID,
			DrugID:      item.DrugID,
			BatchNumber: item.BatchNumber,
			Quantity:    item.QuantityInStock,
			ExpiryDate:  item.ExpiryDate,
			AddedBy:     actor.UserID,
		})
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, event.WithActor(actor))
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.metrics.StockBatchAdded()
	s.invalidate(ctx)
	if item.Expired(s.now()) {
		s.logger.Warn("stock batch received already expired",
			zap.String("stock_item_id", item.ID),
			zap.String("expiry_date", item.ExpiryDate.Format(domain.DateLayout)))
	}
	s.logger.Info("stock batch added",
		zap.String("stock_item_id", item.ID),
		zap.String("drug_id", item.DrugID),
		zap.String("batch_number", item.BatchNumber),
		zap.Int("quantity", item.QuantityInStock),
		zap.String("user_id", actor.UserID))

	return item, nil
}

// ListStock returns every batch of a drug in FEFO order
func (s *Service) ListStock(ctx context.Context, drugID string) ([]domain.StockItem, error) {
	if _, err := s.store.GetDrug(ctx, drugID); err != nil {
		return nil, err
	}
	return s.store.ListStockItems(ctx, drugID)
}

// StockSummary returns per-drug totals, served from the cache when warm
func (s *Service) StockSummary(ctx context.Context) ([]domain.StockSummary, error) {
	if cached, ok, err := s.cache.Get(ctx); err != nil {
		s.logger.Warn("stock summary cache read failed", zap.Error(err))
	} else if ok {
		return cached, nil
	}

	summary, err := s.store.StockSummary(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, summary); err != nil {
		s.logger.Warn("stock summary cache write failed", zap.Error(err))
	}
	return summary, nil
}

// ExpiringStock returns batches with stock whose expiry falls within days,
// expired batches included
func (s *Service) ExpiringStock(ctx context.Context, days int) ([]domain.StockItem, error) {
	if days < 0 {
		return nil, domain.Invalid("days", "must not be negative")
	}
	today := s.now().Truncate(24 * time.Hour)
	return s.store.ListExpiringStock(ctx, today.AddDate(0, 0, days+1))
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("stock summary cache invalidation failed", zap.Error(err))
	}
}
