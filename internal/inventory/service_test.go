package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-dispensary/internal/cache"
	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/infrastructure/memory"
	"github.com/drfirst/go-dispensary/internal/store"
)

var pharmacist = domain.Actor{UserID: "pharm-1", Role: domain.RolePharmacist}

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	s := memory.New()
	svc := NewService(s, nil, nil, nil)
	svc.now = func() time.Time { return time.Date(2030, 6, 15, 10, 0, 0, 0, time.UTC) }
	return svc, s
}

func restock(drugID, batch, expiry string, qty int) domain.RestockRequest {
	return domain.RestockRequest{
		DrugID:        drugID,
		BatchNumber:   batch,
		ExpiryDate:    expiry,
		Quantity:      qty,
		PurchasePrice: decimal.RequireFromString("4.00"),
		SellingPrice:  decimal.RequireFromString("6.50"),
	}
}

func TestCreateDrug_ValidatesAndRejectsDuplicates(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	d, err := svc.CreateDrug(ctx, domain.Drug{Name: " Paracetamol 500mg ", DosageForm: "tablet"})
	require.NoError(t, err)
	assert.Equal(t, "Paracetamol 500mg", d.Name)
	assert.Equal(t, domain.FormTablet, d.DosageForm)
	assert.NotEmpty(t, d.ID)

	_, err = svc.CreateDrug(ctx, domain.Drug{Name: "paracetamol 500MG", DosageForm: "TABLET"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.CreateDrug(ctx, domain.Drug{Name: "Mystery", DosageForm: "POWDER"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDeleteDrug_GuardedByStock(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	used, err := svc.CreateDrug(ctx, domain.Drug{Name: "Cetirizine", DosageForm: domain.FormTablet})
	require.NoError(t, err)
	unused, err := svc.CreateDrug(ctx, domain.Drug{Name: "Calamine", DosageForm: domain.FormCreamOintmentGel})
	require.NoError(t, err)

	_, err = svc.AddStockBatch(ctx, pharmacist, restock(used.ID, "C-1", "2031-01-01", 10))
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteDrug(ctx, used.ID), domain.ErrConflict)
	assert.NoError(t, svc.DeleteDrug(ctx, unused.ID))
	assert.ErrorIs(t, svc.DeleteDrug(ctx, unused.ID), domain.ErrNotFound)
}

func TestDeleteDrug_GuardedByPrescriptionLines(t *testing.T) {
	svc, s := newService(t)
	ctx := context.Background()

	drug, err := svc.CreateDrug(ctx, domain.Drug{Name: "Salbutamol", DosageForm: domain.FormInhaler})
	require.NoError(t, err)
	patient := &domain.Patient{ID: "p1", Name: "A", MobileNumber: "070", CreatedAt: time.Now()}
	require.NoError(t, s.CreatePatient(ctx, patient))
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertConsultation(ctx, &domain.Consultation{ID: "c1", PatientID: "p1", DoctorID: "d", Diagnosis: "asthma"}); err != nil {
			return err
		}
		return tx.InsertPrescription(ctx, &domain.Prescription{
			ID: "rx1", ConsultationID: "c1", Status: domain.StatusPending,
			Lines: []domain.PrescribedDrug{{ID: "l1", PrescriptionID: "rx1", DrugID: drug.ID, Dosage: "2 puffs", Quantity: 1}},
		})
	}))

	assert.ErrorIs(t, svc.DeleteDrug(ctx, drug.ID), domain.ErrConflict)
}

func TestAddStockBatch(t *testing.T) {
	svc, s := newService(t)
	ctx := context.Background()
	drug, err := svc.CreateDrug(ctx, domain.Drug{Name: "Amoxicillin", DosageForm: domain.FormCapsule})
	require.NoError(t, err)

	item, err := svc.AddStockBatch(ctx, pharmacist, restock(drug.ID, "AMX-7", "2031-03-31", 200))
	require.NoError(t, err)
	assert.Equal(t, 200, item.QuantityInStock)
	assert.Equal(t, "Amoxicillin", item.DrugName)
	assert.Equal(t, "2031-03-31", item.ExpiryDate.Format(domain.DateLayout))

	events := s.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventStockBatchAdded, events[0].EventType)

	items, err := svc.ListStock(ctx, drug.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestAddStockBatch_Rejections(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	drug, err := svc.CreateDrug(ctx, domain.Drug{Name: "Ibuprofen", DosageForm: domain.FormTablet})
	require.NoError(t, err)

	zeroPrice := restock(drug.ID, "I-1", "2031-01-01", 5)
	zeroPrice.SellingPrice = decimal.Zero

	tests := []struct {
		name string
		req  domain.RestockRequest
		want error
	}{
		{"unknown drug", restock("nope", "X-1", "2031-01-01", 5), domain.ErrNotFound},
		{"blank batch", restock(drug.ID, " ", "2031-01-01", 5), domain.ErrValidation},
		{"zero quantity", restock(drug.ID, "I-1", "2031-01-01", 0), domain.ErrValidation},
		{"bad date", restock(drug.ID, "I-1", "31/01/2031", 5), domain.ErrValidation},
		{"implausible date", restock(drug.ID, "I-1", "1999-12-31", 5), domain.ErrValidation},
		{"zero selling price", zeroPrice, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddStockBatch(ctx, pharmacist, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAddStockBatch_AcceptsPastExpiry(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	drug, err := svc.CreateDrug(ctx, domain.Drug{Name: "Old Syrup", DosageForm: domain.FormSyrupLiquid})
	require.NoError(t, err)

	item, err := svc.AddStockBatch(ctx, pharmacist, restock(drug.ID, "OLD-1", "2029-01-01", 3))
	require.NoError(t, err)
	assert.True(t, item.Expired(svc.now()))
}

func TestStockSummary_CachedAndInvalidatedOnRestock(t *testing.T) {
	s := memory.New()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	svc := NewService(s, cache.NewStockSummaryCache(client, time.Minute, nil, nil), nil, nil)
	ctx := context.Background()

	drug, err := svc.CreateDrug(ctx, domain.Drug{Name: "Loratadine", DosageForm: domain.FormTablet})
	require.NoError(t, err)
	_, err = svc.AddStockBatch(ctx, pharmacist, restock(drug.ID, "L-1", "2031-01-01", 10))
	require.NoError(t, err)

	summary, err := svc.StockSummary(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, 10, summary[0].TotalQuantity)
	assert.True(t, mr.Exists(cache.StockSummaryKey))

	_, err = svc.AddStockBatch(ctx, pharmacist, restock(drug.ID, "L-2", "2030-12-01", 5))
	require.NoError(t, err)
	assert.False(t, mr.Exists(cache.StockSummaryKey))

	summary, err = svc.StockSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, summary[0].TotalQuantity)
	assert.Equal(t, 2, summary[0].ActiveBatches)
	assert.Equal(t, "2030-12-01", summary[0].EarliestExpiry.Format(domain.DateLayout))
}

func TestExpiringStock_IncludesExpired(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	drug, err := svc.CreateDrug(ctx, domain.Drug{Name: "Eye Drops", DosageForm: domain.FormDrops})
	require.NoError(t, err)

	for _, r := range []domain.RestockRequest{
		restock(drug.ID, "E-expired", "2030-06-01", 2),
		restock(drug.ID, "E-soon", "2030-07-10", 4),
		restock(drug.ID, "E-later", "2031-01-01", 6),
	} {
		_, err := svc.AddStockBatch(ctx, pharmacist, r)
		require.NoError(t, err)
	}

	items, err := svc.ExpiringStock(ctx, 30)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "E-expired", items[0].BatchNumber)
	assert.Equal(t, "E-soon", items[1].BatchNumber)

	_, err = svc.ExpiringStock(ctx, -1)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
