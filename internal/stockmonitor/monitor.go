// Package stockmonitor raises stock alerts after dispensing. It consumes
// PrescriptionDispensed events, re-checks every dispensed drug and publishes
// StockAlertRaised events for low, expired and expiring stock.
package stockmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/infrastructure/redpanda"
	"github.com/drfirst/go-dispensary/internal/observability/metrics"
	"github.com/drfirst/go-dispensary/internal/store"
	"github.com/drfirst/go-dispensary/pkg/idempotency"
	"github.com/drfirst/go-dispensary/pkg/workerpool"
)

// HandlerName identifies the monitor in the idempotency inbox
const HandlerName = "stock-monitor"

// Publisher delivers one message to a topic
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Config holds alert thresholds
type Config struct {
	// LowStockThreshold raises LOW_STOCK when a drug's usable units fall below it. Zero disables.
	LowStockThreshold int
	// ExpiryWarningDays raises EXPIRING for batches expiring within this many days
	ExpiryWarningDays int
	// SweepInterval is how often every drug is checked regardless of events. Zero disables.
	SweepInterval time.Duration
	Pool          workerpool.Config
}

// DefaultConfig returns the thresholds used when none are configured
func DefaultConfig() Config {
	return Config{
		LowStockThreshold: 20,
		ExpiryWarningDays: 30,
		SweepInterval:     time.Hour,
		Pool:              workerpool.DefaultConfig(),
	}
}

// Monitor checks drugs on a worker pool and publishes alerts
type Monitor struct {
	store     store.Store
	inbox     idempotency.Processor
	publisher Publisher
	pool      *workerpool.Pool
	config    Config
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// drugCheck is the payload of one pool task
type drugCheck struct {
	drugID string
	source string
	raised int64
}

// New creates a monitor. m may be nil.
func New(s store.Store, inbox idempotency.Processor, publisher Publisher, cfg Config, m *metrics.Metrics, logger *zap.Logger) (*Monitor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if s == nil || inbox == nil || publisher == nil {
		return nil, errors.New("stock monitor needs a store, an inbox and a publisher")
	}

	ctx, cancel := context.WithCancel(context.Background())
	mon := &Monitor{
		store:     s,
		inbox:     inbox,
		publisher: publisher,
		config:    cfg,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("stock-monitor"),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	pool, err := workerpool.New(cfg.Pool, mon.runCheck, logger.Named("pool"))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	mon.pool = pool
	return mon, nil
}

// Start launches the workers and the periodic sweep
func (m *Monitor) Start() {
	m.pool.Start()
	go m.sweepLoop()
	m.logger.Info("stock monitor started",
		zap.Int("low_stock_threshold", m.config.LowStockThreshold),
		zap.Int("expiry_warning_days", m.config.ExpiryWarningDays))
}

// Stop ends the sweep and drains the pool
func (m *Monitor) Stop() error {
	m.cancel()
	<-m.done
	return m.pool.Stop()
}

// HandleMessage is the consumer callback for the dispensing topic. Malformed
// and already handled events are acknowledged; transient failures are
// returned so the record is redelivered.
func (m *Monitor) HandleMessage(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	var event domain.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil || event.ID == "" {
		m.logger.Error("dropping undecodable event",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}
	if event.EventType != domain.EventPrescriptionDispensed {
		return nil
	}

	ctx, span := m.tracer.Start(ctx, "stock_monitor_handle",
		trace.WithAttributes(
			attribute.String("event_id", event.ID),
			attribute.String("prescription_id", event.AggregateID),
		))
	defer span.End()

	key := idempotency.EventKey(event.ID, HandlerName)
	res, err := m.inbox.Process(ctx, key, HandlerName, event.Payload, func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var data domain.PrescriptionDispensedData
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, err
		}
		raised, err := m.CheckDrugs(ctx, event.ID, data.DrugIDs)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]int{"alerts": raised})
	})

	switch {
	case err == nil:
		if res.Duplicate {
			m.logger.Debug("event already handled", zap.String("event_id", event.ID))
		}
		return nil
	case errors.Is(err, idempotency.ErrPreviouslyFailed), errors.Is(err, idempotency.ErrDuplicateMessage):
		return nil
	case idempotency.IsTerminal(err):
		m.logger.Error("event failed permanently", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	default:
		span.RecordError(err)
		return err
	}
}

// CheckDrugs evaluates each distinct drug on the pool and returns the number
// of alerts published
func (m *Monitor) CheckDrugs(ctx context.Context, source string, drugIDs []string) (int, error) {
	seen := make(map[string]bool, len(drugIDs))
	var checks []*drugCheck
	var tasks []*workerpool.Task
	for _, id := range drugIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		c := &drugCheck{drugID: id, source: source}
		checks = append(checks, c)
		tasks = append(tasks, &workerpool.Task{ID: id, Payload: c})
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	_, err := m.pool.Run(ctx, tasks)
	raised := 0
	for _, c := range checks {
		raised += int(atomic.LoadInt64(&c.raised))
	}
	return raised, err
}

// Sweep checks every drug in the catalog
func (m *Monitor) Sweep(ctx context.Context) (int, error) {
	drugs, err := m.store.ListDrugs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list drugs: %w", err)
	}
	ids := make([]string, 0, len(drugs))
	for _, d := range drugs {
		ids = append(ids, d.ID)
	}
	return m.CheckDrugs(ctx, "sweep:"+m.now().UTC().Format(time.RFC3339), ids)
}

func (m *Monitor) sweepLoop() {
	defer close(m.done)
	if m.config.SweepInterval <= 0 {
		<-m.ctx.Done()
		return
	}

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			n, err := m.Sweep(m.ctx)
			if err != nil {
				m.logger.Error("stock sweep failed", zap.Error(err))
				continue
			}
			m.logger.Info("stock sweep completed", zap.Int("alerts", n))
		}
	}
}

// runCheck is the pool worker
func (m *Monitor) runCheck(ctx context.Context, task *workerpool.Task) error {
	c := task.Payload.(*drugCheck)

	drug, err := m.store.GetDrug(ctx, c.drugID)
	if errors.Is(err, domain.ErrNotFound) {
		m.logger.Debug("skipping deleted drug", zap.String("drug_id", c.drugID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load drug: %w", err)
	}
	items, err := m.store.ListStockItems(ctx, c.drugID)
	if err != nil {
		return fmt.Errorf("load stock: %w", err)
	}

	// a retried task resumes after the alerts it already published
	alerts := Evaluate(m.now(), *drug, items, m.config)
	start := int(atomic.LoadInt64(&c.raised))
	if start > len(alerts) {
		start = len(alerts)
	}
	for _, alert := range alerts[start:] {
		alert.SourceEventID = c.source
		if err := m.publish(ctx, alert); err != nil {
			return err
		}
		atomic.AddInt64(&c.raised, 1)
	}
	return nil
}

func (m *Monitor) publish(ctx context.Context, alert domain.StockAlertRaisedData) error {
	event, err := domain.NewEvent("drug", alert.DrugID, domain.EventStockAlertRaised, alert)
	if err != nil {
		return workerpool.Permanent(fmt.Errorf("encode alert: %w", err))
	}
	body, err := event.Envelope()
	if err != nil {
		return workerpool.Permanent(fmt.Errorf("encode alert: %w", err))
	}
	if err := m.publisher.Publish(ctx, event.Topic, alert.Key(), body); err != nil {
		return fmt.Errorf("publish %s alert for %s: %w", alert.Kind, alert.DrugID, err)
	}

	m.metrics.StockAlert(string(alert.Kind))
	m.logger.Info("stock alert raised",
		zap.String("kind", string(alert.Kind)),
		zap.String("drug_id", alert.DrugID),
		zap.String("batch", alert.BatchNumber),
		zap.Int("total_units", alert.TotalUnits))
	return nil
}

// Evaluate returns the alerts for one drug: LOW_STOCK when usable units are
// under the threshold, then one EXPIRED or EXPIRING alert per stocked batch
// in FEFO order
func Evaluate(now time.Time, drug domain.Drug, items []domain.StockItem, cfg Config) []domain.StockAlertRaisedData {
	stocked := make([]domain.StockItem, 0, len(items))
	total := 0
	for _, item := range items {
		if item.QuantityInStock > 0 {
			stocked = append(stocked, item)
			total += item.QuantityInStock
		}
	}
	domain.SortFEFO(stocked)

	raisedAt := now.UTC()
	base := domain.StockAlertRaisedData{
		DrugID:     drug.ID,
		DrugName:   drug.Name,
		TotalUnits: total,
		RaisedAt:   raisedAt,
	}

	var alerts []domain.StockAlertRaisedData
	if cfg.LowStockThreshold > 0 && total < cfg.LowStockThreshold {
		a := base
		a.Kind = domain.AlertLowStock
		a.Threshold = cfg.LowStockThreshold
		alerts = append(alerts, a)
	}

	warnBefore := time.Date(raisedAt.Year(), raisedAt.Month(), raisedAt.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, cfg.ExpiryWarningDays)
	for _, item := range stocked {
		var kind domain.AlertKind
		switch {
		case item.Expired(now):
			kind = domain.AlertExpired
		case cfg.ExpiryWarningDays > 0 && item.ExpiryDate.Before(warnBefore):
			kind = domain.AlertExpiring
		default:
			continue
		}
		expiry := item.ExpiryDate
		a := base
		a.Kind = kind
		a.StockItemID = item.ID
		a.BatchNumber = item.BatchNumber
		a.BatchUnits = item.QuantityInStock
		a.ExpiryDate = &expiry
		alerts = append(alerts, a)
	}
	return alerts
}
