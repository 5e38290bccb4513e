package consultation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/infrastructure/memory"
)

var doctor = domain.Actor{UserID: "doc-1", Name: "Dr. Silva", Role: domain.RoleDoctor}

func setup(t *testing.T) (*memory.Store, *Recorder, string, string) {
	t.Helper()
	ctx := context.Background()
	s := memory.New()

	weight := 70.0
	patient := &domain.Patient{ID: uuid.New().String(), Name: "Kamal Perera", MobileNumber: "0711111111", CurrentWeightKg: &weight, CreatedAt: time.Now()}
	require.NoError(t, s.CreatePatient(ctx, patient))

	drug := &domain.Drug{ID: uuid.New().String(), Name: "Amoxicillin 250mg", DosageForm: domain.FormCapsule, CreatedAt: time.Now()}
	require.NoError(t, s.CreateDrug(ctx, drug))

	return s, NewRecorder(s, nil, nil), patient.ID, drug.ID
}

func floatPtr(f float64) *float64 { return &f }

func TestRecord_CreatesConsultationAndPendingPrescription(t *testing.T) {
	s, rec, patientID, drugID := setup(t)
	ctx := context.Background()

	out, err := rec.Record(ctx, doctor, domain.ConsultationRequest{
		PatientID:            patientID,
		Diagnosis:            "otitis media",
		WeightAtConsultation: floatPtr(68.5),
		Attachments:          []string{"scan-2.png", "scan-1.png"},
		Lines:                []domain.LineRequest{{DrugID: drugID, Dosage: "1 cap tds x5d", Quantity: 15}},
	})
	require.NoError(t, err)

	p, err := s.GetPrescription(ctx, out.PrescriptionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, p.Status)
	assert.Equal(t, out.ConsultationID, p.ConsultationID)
	require.Len(t, p.Lines, 1)
	assert.Equal(t, 15, p.Lines[0].Quantity)
	assert.Equal(t, "Amoxicillin 250mg", p.Lines[0].DrugName)
	assert.Nil(t, p.Bill)

	history, err := s.ListConsultations(ctx, patientID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, []string{"scan-2.png", "scan-1.png"}, history[0].Attachments)
	assert.Equal(t, doctor.UserID, history[0].DoctorID)
	require.NotNil(t, history[0].WeightAtConsultation)
	assert.Equal(t, 68.5, *history[0].WeightAtConsultation)

	patient, err := s.GetPatient(ctx, patientID)
	require.NoError(t, err)
	require.NotNil(t, patient.CurrentWeightKg)
	assert.Equal(t, 68.5, *patient.CurrentWeightKg)

	events := s.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventConsultationRecorded, events[0].EventType)
	assert.Equal(t, domain.TopicConsultations, events[0].Topic)
}

func TestRecord_WithoutWeightKeepsPatientWeight(t *testing.T) {
	s, rec, patientID, drugID := setup(t)
	ctx := context.Background()

	_, err := rec.Record(ctx, doctor, domain.ConsultationRequest{
		PatientID: patientID,
		Diagnosis: "follow-up",
		Lines:     []domain.LineRequest{{DrugID: drugID, Dosage: "1 cap bd", Quantity: 10}},
	})
	require.NoError(t, err)

	patient, err := s.GetPatient(ctx, patientID)
	require.NoError(t, err)
	assert.Equal(t, 70.0, *patient.CurrentWeightKg)
}

func TestRecord_UnknownDrugWritesNothing(t *testing.T) {
	s, rec, patientID, drugID := setup(t)

	_, err := rec.Record(context.Background(), doctor, domain.ConsultationRequest{
		PatientID:            patientID,
		Diagnosis:            "tonsillitis",
		WeightAtConsultation: floatPtr(50),
		Lines: []domain.LineRequest{
			{DrugID: drugID, Dosage: "1 cap tds", Quantity: 15},
			{DrugID: "no-such-drug", Dosage: "5ml bd", Quantity: 1},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransaction)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "no-such-drug")

	consultations, prescriptions, bills := s.Counts()
	assert.Zero(t, consultations)
	assert.Zero(t, prescriptions)
	assert.Zero(t, bills)
	assert.Empty(t, s.Events())

	patient, err := s.GetPatient(context.Background(), patientID)
	require.NoError(t, err)
	assert.Equal(t, 70.0, *patient.CurrentWeightKg)
}

func TestRecord_UnknownPatientIsNotFound(t *testing.T) {
	_, rec, _, drugID := setup(t)

	_, err := rec.Record(context.Background(), doctor, domain.ConsultationRequest{
		PatientID: "ghost",
		Diagnosis: "fever",
		Lines:     []domain.LineRequest{{DrugID: drugID, Dosage: "1 cap", Quantity: 1}},
	})

	var nf *domain.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "patient", nf.Entity)
	assert.NotErrorIs(t, err, domain.ErrTransaction)
}

func TestRecord_ValidationRunsBeforeAnyWrite(t *testing.T) {
	s, rec, patientID, drugID := setup(t)

	tests := []struct {
		name  string
		req   domain.ConsultationRequest
		field string
	}{
		{
			name:  "missing patient",
			req:   domain.ConsultationRequest{Diagnosis: "x", Lines: []domain.LineRequest{{DrugID: drugID, Dosage: "d", Quantity: 1}}},
			field: "patientId",
		},
		{
			name:  "blank diagnosis",
			req:   domain.ConsultationRequest{PatientID: patientID, Diagnosis: "  ", Lines: []domain.LineRequest{{DrugID: drugID, Dosage: "d", Quantity: 1}}},
			field: "diagnosisNotes",
		},
		{
			name:  "no lines",
			req:   domain.ConsultationRequest{PatientID: patientID, Diagnosis: "x"},
			field: "prescribedDrugs",
		},
		{
			name:  "zero quantity",
			req:   domain.ConsultationRequest{PatientID: patientID, Diagnosis: "x", Lines: []domain.LineRequest{{DrugID: drugID, Dosage: "d", Quantity: 0}}},
			field: "prescribedDrugs",
		},
		{
			name:  "missing dosage",
			req:   domain.ConsultationRequest{PatientID: patientID, Diagnosis: "x", Lines: []domain.LineRequest{{DrugID: drugID, Quantity: 2}}},
			field: "prescribedDrugs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rec.Record(context.Background(), doctor, tt.req)

			var ve *domain.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	consultations, _, _ := s.Counts()
	assert.Zero(t, consultations)
}
