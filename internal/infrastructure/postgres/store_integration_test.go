//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-dispensary/internal/consultation"
	"github.com/drfirst/go-dispensary/internal/dispensing"
	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/inventory"
	"github.com/drfirst/go-dispensary/pkg/idempotency"
)

var (
	doctor     = domain.Actor{UserID: "it-doctor", Name: "Dr Test", Role: domain.RoleDoctor}
	pharmacist = domain.Actor{UserID: "it-pharm", Name: "Pharm Test", Role: domain.RolePharmacist}
)

type itEnv struct {
	ctx       context.Context
	pool      *pgxpool.Pool
	store     *Store
	recorder  *consultation.Recorder
	inventory *inventory.Service
	engine    *dispensing.Engine
}

func setup(t *testing.T) *itEnv {
	t.Helper()
	url := os.Getenv("CLINIC_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CLINIC_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, url)
	if err != nil {
		t.Skipf("database unreachable: %v", err)
	}
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))

	s := NewStore(pool, nil)
	return &itEnv{
		ctx:       ctx,
		pool:      pool,
		store:     s,
		recorder:  consultation.NewRecorder(s, nil, nil),
		inventory: inventory.NewService(s, nil, nil, nil),
		engine:    dispensing.NewEngine(s, nil),
	}
}

func (e *itEnv) drugWithStock(t *testing.T, qty int, price string) string {
	t.Helper()
	d, err := e.inventory.CreateDrug(e.ctx, domain.Drug{Name: "IT-" + uuid.NewString()[:8], DosageForm: domain.FormTablet})
	require.NoError(t, err)
	_, err = e.inventory.AddStockBatch(e.ctx, pharmacist, domain.RestockRequest{
		DrugID:        d.ID,
		BatchNumber:   "B-" + uuid.NewString()[:6],
		ExpiryDate:    time.Now().AddDate(1, 0, 0).Format(domain.DateLayout),
		Quantity:      qty,
		PurchasePrice: decimal.RequireFromString(price),
		SellingPrice:  decimal.RequireFromString(price),
	})
	require.NoError(t, err)
	return d.ID
}

func (e *itEnv) prescribe(t *testing.T, drugID string, qty int) string {
	t.Helper()
	p := &domain.Patient{ID: uuid.NewString(), Name: "IT Patient", MobileNumber: uuid.NewString()[:12], CreatedAt: time.Now()}
	require.NoError(t, e.store.CreatePatient(e.ctx, p))
	rec, err := e.recorder.Record(e.ctx, doctor, domain.ConsultationRequest{
		PatientID: p.ID,
		Diagnosis: "integration",
		Lines:     []domain.LineRequest{{DrugID: drugID, Dosage: "1x3", Quantity: qty}},
	})
	require.NoError(t, err)
	return rec.PrescriptionID
}

func (e *itEnv) units(t *testing.T, drugID string) int {
	t.Helper()
	items, err := e.store.ListStockItems(e.ctx, drugID)
	require.NoError(t, err)
	total := 0
	for _, it := range items {
		require.GreaterOrEqual(t, it.QuantityInStock, 0)
		total += it.QuantityInStock
	}
	return total
}

func TestConcurrentDispenseOfOnePrescriptionBillsOnce(t *testing.T) {
	e := setup(t)
	drugID := e.drugWithStock(t, 50, "2.50")
	rxID := e.prescribe(t, drugID, 4)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, already int
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.engine.Dispense(e.ctx, pharmacist, rxID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrAlreadyDispensed):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, already)
	assert.Equal(t, 46, e.units(t, drugID))

	rx, err := e.store.GetPrescription(e.ctx, rxID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDispensed, rx.Status)
	require.NotNil(t, rx.Bill)
	assert.True(t, rx.Bill.TotalAmount.Equal(decimal.RequireFromString("10")))

	var events int
	require.NoError(t, e.pool.QueryRow(e.ctx, `
		SELECT COUNT(*) FROM outbox WHERE aggregate_id = $1 AND event_type = $2`,
		rxID, string(domain.EventPrescriptionDispensed)).Scan(&events))
	assert.Equal(t, 1, events)
}

func TestCompetingPrescriptionsNeverOversell(t *testing.T) {
	e := setup(t)
	drugID := e.drugWithStock(t, 10, "1.00")

	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, e.prescribe(t, drugID, 3))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, short int
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := e.engine.Dispense(e.ctx, pharmacist, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrInsufficientStock):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 3, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, 1, e.units(t, drugID))
}

func TestInboxProcessesEventOnce(t *testing.T) {
	e := setup(t)
	inbox := idempotency.NewInbox(e.pool, idempotency.DefaultInboxConfig(), nil)
	key := idempotency.EventKey(uuid.NewString(), "integration")

	calls := 0
	fn := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"alerts":1}`), nil
	}

	first, err := inbox.Process(e.ctx, key, "integration", json.RawMessage(`{}`), fn)
	require.NoError(t, err)
	assert.True(t, first.IsNew)

	second, err := inbox.Process(e.ctx, key, "integration", json.RawMessage(`{}`), fn)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, calls)

	stats, err := inbox.GetStats(e.ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Finished, int64(1))
}
