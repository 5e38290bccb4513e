package billing

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/drfirst/go-dispensary/internal/consultation"
	"github.com/drfirst/go-dispensary/internal/dispensing"
	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/infrastructure/memory"
	"github.com/drfirst/go-dispensary/internal/inventory"
	"github.com/drfirst/go-dispensary/internal/patients"
)

var (
	doctor     = domain.Actor{UserID: "doc", Role: domain.RoleDoctor}
	pharmacist = domain.Actor{UserID: "pharm", Role: domain.RolePharmacist}
	now        = time.Date(2030, 3, 20, 15, 0, 0, 0, time.UTC)
)

// seedBills dispenses one prescription per entry, billed at the given time
func seedBills(t *testing.T, s *memory.Store, at []time.Time, units int) {
	t.Helper()
	ctx := context.Background()

	inv := inventory.NewService(s, nil, nil, nil)
	drug, err := inv.CreateDrug(ctx, domain.Drug{Name: "Paracetamol", DosageForm: domain.FormTablet})
	require.NoError(t, err)
	_, err = inv.AddStockBatch(ctx, pharmacist, domain.RestockRequest{
		DrugID: drug.ID, BatchNumber: "P-1", ExpiryDate: "2031-01-01", Quantity: 1000,
		PurchasePrice: decimal.RequireFromString("0.50"), SellingPrice: decimal.RequireFromString("1.25"),
	})
	require.NoError(t, err)

	patient, err := patients.NewService(s, nil).Register(ctx, domain.Patient{Name: "Ruwan", MobileNumber: "0775550000"})
	require.NoError(t, err)

	rec := consultation.NewRecorder(s, nil, nil)
	for _, ts := range at {
		out, err := rec.Record(ctx, doctor, domain.ConsultationRequest{
			PatientID: patient.ID,
			Diagnosis: "headache",
			Lines:     []domain.LineRequest{{DrugID: drug.ID, Dosage: "1 tab", Quantity: units}},
		})
		require.NoError(t, err)

		issued := ts
		engine := dispensing.NewEngine(s, nil, dispensing.WithClock(func() time.Time { return issued }))
		_, err = engine.Dispense(ctx, pharmacist, out.PrescriptionID)
		require.NoError(t, err)
	}
}

func newService(s *memory.Store) *Service {
	svc := NewService(s)
	svc.now = func() time.Time { return now }
	return svc
}

func TestIncome_Ranges(t *testing.T) {
	s := memory.New()
	seedBills(t, s, []time.Time{
		now.Add(-2 * time.Hour),    // today
		now.AddDate(0, 0, -3),      // this week
		now.AddDate(0, 0, -12),     // this month
		now.AddDate(0, -1, 0),      // last month
		now.Add(-15*time.Hour - 1), // yesterday
	}, 4)
	svc := newService(s)
	ctx := context.Background()

	tests := []struct {
		r     Range
		count int
		total string
	}{
		{RangeToday, 1, "5"},
		{RangeWeek, 3, "15"},
		{RangeMonth, 4, "20"},
	}
	for _, tt := range tests {
		t.Run(string(tt.r), func(t *testing.T) {
			sum, err := svc.Income(ctx, tt.r)
			require.NoError(t, err)
			assert.Equal(t, tt.count, sum.BillCount)
			assert.Equal(t, tt.total, sum.Total.String())
		})
	}

	_, err := svc.Income(ctx, "year")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestList_DateRange(t *testing.T) {
	s := memory.New()
	seedBills(t, s, []time.Time{now.AddDate(0, 0, -1), now}, 2)
	svc := newService(s)
	ctx := context.Background()

	bills, err := svc.List(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, bills, 1)
	assert.Equal(t, "Ruwan", bills[0].PatientName)
	assert.Equal(t, "2.5", bills[0].TotalAmount.String())

	_, err = svc.List(ctx, now, now)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestExportRevenue_WritesWorkbookWithTotal(t *testing.T) {
	s := memory.New()
	seedBills(t, s, []time.Time{now, now.AddDate(0, 0, -1), now.AddDate(0, -1, 0)}, 8)
	svc := newService(s)

	var buf bytes.Buffer
	sum, err := svc.ExportRevenue(context.Background(), "2030-03", &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.BillCount)
	assert.Equal(t, "20", sum.Total.String())

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(revenueSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, revenueHeaders, rows[0])
	assert.Equal(t, "Total", rows[3][3])
	assert.Equal(t, "Ruwan", rows[1][2])

	_, err = svc.ExportRevenue(context.Background(), "March", &buf)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
