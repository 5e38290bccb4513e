package stockmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/infrastructure/memory"
	"github.com/drfirst/go-dispensary/internal/infrastructure/redpanda"
	"github.com/drfirst/go-dispensary/internal/store"
	"github.com/drfirst/go-dispensary/pkg/idempotency"
)

var today = time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)

type published struct {
	topic string
	key   string
	alert domain.StockAlertRaisedData
}

type recordingPublisher struct {
	mu   sync.Mutex
	fail error
	msgs []published
}

func (p *recordingPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	var event domain.Event
	if err := json.Unmarshal(value, &event); err != nil {
		return err
	}
	var alert domain.StockAlertRaisedData
	if err := json.Unmarshal(event.Payload, &alert); err != nil {
		return err
	}
	p.msgs = append(p.msgs, published{topic: topic, key: key, alert: alert})
	return nil
}

func (p *recordingPublisher) setFail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}

func (p *recordingPublisher) kinds() map[domain.AlertKind]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := map[domain.AlertKind]int{}
	for _, m := range p.msgs {
		out[m.alert.Kind]++
	}
	return out
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	store     *memory.Store
	publisher *recordingPublisher
	monitor   *Monitor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	pub := &recordingPublisher{}

	cfg := DefaultConfig()
	cfg.SweepInterval = 0
	cfg.Pool.Workers = 2
	cfg.Pool.MaxRetries = 0
	cfg.Pool.RetryDelay = time.Millisecond

	mon, err := New(s, idempotency.NewMemoryInbox(idempotency.DefaultInboxConfig()), pub, cfg, nil, nil)
	require.NoError(t, err)
	mon.now = func() time.Time { return today }
	mon.Start()
	t.Cleanup(func() { require.NoError(t, mon.Stop()) })

	return &fixture{t: t, ctx: context.Background(), store: s, publisher: pub, monitor: mon}
}

func (f *fixture) drug(name string) string {
	f.t.Helper()
	d := &domain.Drug{ID: uuid.New().String(), Name: name, DosageForm: domain.FormTablet, CreatedAt: today}
	require.NoError(f.t, f.store.CreateDrug(f.ctx, d))
	return d.ID
}

func (f *fixture) stock(drugID, expiry string, qty int) {
	f.t.Helper()
	exp, err := domain.ParseDate(expiry)
	require.NoError(f.t, err)
	item := &domain.StockItem{
		ID:              uuid.New().String(),
		DrugID:          drugID,
		BatchNumber:     "LOT-" + expiry,
		ExpiryDate:      exp,
		QuantityInStock: qty,
		PurchasePrice:   decimal.NewFromInt(1),
		SellingPrice:    decimal.NewFromInt(2),
		CreatedAt:       today,
	}
	require.NoError(f.t, f.store.InTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertStockItem(ctx, item)
	}))
}

func dispensedMessage(t *testing.T, drugIDs ...string) *redpanda.ConsumedMessage {
	t.Helper()
	event, err := domain.NewEvent("prescription", "rx-1", domain.EventPrescriptionDispensed, domain.PrescriptionDispensedData{
		PrescriptionID: "rx-1",
		BillID:         "bill-1",
		TotalAmount:    decimal.NewFromInt(10),
		DispensedBy:    "user-pharm",
		DispensedAt:    today,
		DrugIDs:        drugIDs,
	})
	require.NoError(t, err)
	body, err := event.Envelope()
	require.NoError(t, err)
	return &redpanda.ConsumedMessage{Topic: domain.TopicDispensing, Key: []byte("rx-1"), Value: body}
}

func TestEvaluate(t *testing.T) {
	drug := domain.Drug{ID: "d1", Name: "Amoxicillin"}
	cfg := Config{LowStockThreshold: 20, ExpiryWarningDays: 30}
	batch := func(id, expiry string, qty int) domain.StockItem {
		exp, err := domain.ParseDate(expiry)
		require.NoError(t, err)
		return domain.StockItem{ID: id, DrugID: "d1", BatchNumber: id, ExpiryDate: exp, QuantityInStock: qty}
	}

	tests := []struct {
		name  string
		items []domain.StockItem
		want  []domain.AlertKind
	}{
		{"healthy", []domain.StockItem{batch("B1", "2027-01-01", 50)}, nil},
		{"no stock at all", nil, []domain.AlertKind{domain.AlertLowStock}},
		{"empty batches do not count", []domain.StockItem{batch("B1", "2027-01-01", 0), batch("B2", "2027-02-01", 5)}, []domain.AlertKind{domain.AlertLowStock}},
		{"expired batch", []domain.StockItem{batch("B1", "2026-05-09", 5), batch("B2", "2027-01-01", 40)}, []domain.AlertKind{domain.AlertExpired}},
		{"expiring today is not expired", []domain.StockItem{batch("B1", "2026-05-10", 25)}, []domain.AlertKind{domain.AlertExpiring}},
		{"warning window edge", []domain.StockItem{batch("B1", "2026-06-09", 25), batch("B2", "2026-06-08", 5)}, []domain.AlertKind{domain.AlertExpiring}},
		{"all kinds in order", []domain.StockItem{batch("B2", "2026-05-20", 3), batch("B1", "2026-04-01", 2)}, []domain.AlertKind{domain.AlertLowStock, domain.AlertExpired, domain.AlertExpiring}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := Evaluate(today, drug, tt.items, cfg)
			var got []domain.AlertKind
			for _, a := range alerts {
				got = append(got, a.Kind)
				assert.Equal(t, "Amoxicillin", a.DrugName)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_ExpiryAlertCarriesBatch(t *testing.T) {
	exp, _ := domain.ParseDate("2026-05-01")
	items := []domain.StockItem{{ID: "s1", BatchNumber: "LOT-9", ExpiryDate: exp, QuantityInStock: 30}}

	alerts := Evaluate(today, domain.Drug{ID: "d1", Name: "Ibuprofen"}, items, Config{LowStockThreshold: 20, ExpiryWarningDays: 30})
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, domain.AlertExpired, a.Kind)
	assert.Equal(t, "LOT-9", a.BatchNumber)
	assert.Equal(t, 30, a.BatchUnits)
	assert.Equal(t, 30, a.TotalUnits)
	require.NotNil(t, a.ExpiryDate)
	assert.True(t, a.ExpiryDate.Equal(exp))
	assert.Equal(t, "d1:EXPIRED:s1", a.Key())
}

func TestHandleMessage_PublishesAlertsOncePerEvent(t *testing.T) {
	f := newFixture(t)
	low := f.drug("Paracetamol")
	f.stock(low, "2027-01-01", 5)
	healthy := f.drug("Cetirizine")
	f.stock(healthy, "2027-01-01", 500)

	msg := dispensedMessage(t, low, healthy, low)
	require.NoError(t, f.monitor.HandleMessage(f.ctx, msg))
	require.NoError(t, f.monitor.HandleMessage(f.ctx, msg))

	f.publisher.mu.Lock()
	defer f.publisher.mu.Unlock()
	require.Len(t, f.publisher.msgs, 1)
	got := f.publisher.msgs[0]
	assert.Equal(t, domain.TopicStockAlerts, got.topic)
	assert.Equal(t, low+":LOW_STOCK", got.key)
	assert.Equal(t, domain.AlertLowStock, got.alert.Kind)
	assert.Equal(t, 5, got.alert.TotalUnits)
	assert.Equal(t, 20, got.alert.Threshold)
	assert.NotEmpty(t, got.alert.SourceEventID)
}

func TestHandleMessage_BrokerFailureIsRedelivered(t *testing.T) {
	f := newFixture(t)
	id := f.drug("Metformin")
	f.stock(id, "2026-05-01", 2)

	msg := dispensedMessage(t, id)
	f.publisher.setFail(errors.New("broker down"))
	require.Error(t, f.monitor.HandleMessage(f.ctx, msg))

	f.publisher.setFail(nil)
	require.NoError(t, f.monitor.HandleMessage(f.ctx, msg))
	assert.Equal(t, map[domain.AlertKind]int{domain.AlertLowStock: 1, domain.AlertExpired: 1}, f.publisher.kinds())
}

func TestHandleMessage_IgnoresOtherAndMalformedEvents(t *testing.T) {
	f := newFixture(t)
	id := f.drug("Omeprazole")

	other, err := domain.NewEvent("drug", id, domain.EventStockBatchAdded, domain.StockBatchAddedData{DrugID: id})
	require.NoError(t, err)
	body, err := other.Envelope()
	require.NoError(t, err)

	assert.NoError(t, f.monitor.HandleMessage(f.ctx, &redpanda.ConsumedMessage{Value: body}))
	assert.NoError(t, f.monitor.HandleMessage(f.ctx, &redpanda.ConsumedMessage{Value: []byte("not json")}))

	bad, err := domain.NewEvent("prescription", "rx-2", domain.EventPrescriptionDispensed, "not an object")
	require.NoError(t, err)
	body, err = bad.Envelope()
	require.NoError(t, err)
	assert.NoError(t, f.monitor.HandleMessage(f.ctx, &redpanda.ConsumedMessage{Value: body}))

	assert.Empty(t, f.publisher.kinds())
}

func TestHandleMessage_SkipsDeletedDrugs(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.monitor.HandleMessage(f.ctx, dispensedMessage(t, "no-such-drug")))
	assert.Empty(t, f.publisher.kinds())
}

func TestSweepChecksWholeCatalog(t *testing.T) {
	f := newFixture(t)
	a := f.drug("Amlodipine")
	f.stock(a, "2026-05-25", 100)
	b := f.drug("Losartan")
	f.stock(b, "2027-05-25", 100)
	f.drug("Atorvastatin")

	n, err := f.monitor.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, map[domain.AlertKind]int{domain.AlertExpiring: 1, domain.AlertLowStock: 1}, f.publisher.kinds())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(memory.New(), nil, &recordingPublisher{}, DefaultConfig(), nil, nil)
	assert.Error(t, err)
}
