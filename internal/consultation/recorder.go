// Package consultation records a doctor's consultation together with its
// PENDING prescription.
package consultation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/observability/metrics"
	"github.com/drfirst/go-dispensary/internal/store"
)

// Recorded identifies the rows a consultation created
type Recorded struct {
	ConsultationID string `json:"consultationId"`
	PrescriptionID string `json:"prescriptionId"`
}

// Recorder writes consultations
type Recorder struct {
	store   store.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewRecorder creates a recorder. m may be nil.
func NewRecorder(s store.Store, m *metrics.Metrics, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:   s,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("consultation"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record validates req, then in one transaction writes the consultation
// with its attachments, a PENDING prescription with its lines, the
// patient's latest weight and a ConsultationRecorded event.
//
// Validation and unknown-patient errors are returned as is. Anything that
// fails after writing started, an unknown drug included, is returned as a
// *domain.TransactionError and nothing is persisted.
func (r *Recorder) Record(ctx context.Context, doctor domain.Actor, req domain.ConsultationRequest) (*Recorded, error) {
	ctx, span := r.tracer.Start(ctx, "record_consultation",
		trace.WithAttributes(
			attribute.String("patient_id", req.PatientID),
			attribute.String("doctor_id", doctor.UserID),
			attribute.Int("lines", len(req.Lines)),
		))
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.now()
	c := &domain.Consultation{
		ID:                   uuid.New().String(),
		PatientID:            req.PatientID,
		DoctorID:             doctor.UserID,
		Diagnosis:            req.Diagnosis,
		WeightAtConsultation: req.WeightAtConsultation,
		Attachments:          append([]string{}, req.Attachments...),
		CreatedAt:            now,
	}
	p := &domain.Prescription{
		ID:             uuid.New().String(),
		ConsultationID: c.ID,
		Status:         domain.StatusPending,
		CreatedAt:      now,
	}
	for _, l := range req.Lines {
		p.Lines = append(p.Lines, domain.PrescribedDrug{
			ID:             uuid.New().String(),
			PrescriptionID: p.ID,
			DrugID:         l.DrugID,
			Dosage:         l.Dosage,
			Quantity:       l.Quantity,
		})
	}

	err := r.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetPatient(ctx, req.PatientID); err != nil {
			return err
		}
		if err := tx.InsertConsultation(ctx, c); err != nil {
			return err
		}
		if err := tx.InsertPrescription(ctx, p); err != nil {
			return err
		}
		if req.WeightAtConsultation != nil {
			if err := tx.UpdatePatientWeight(ctx, req.PatientID, *req.WeightAtConsultation); err != nil {
				return err
			}
		}

		event, err := domain.NewEvent("consultation", c.ID, domain.EventConsultationRecorded, domain.ConsultationRecordedData{
			ConsultationID: c.ID,
			PrescriptionID: p.ID,
			PatientID:      c.PatientID,
			DoctorID:       c.DoctorID,
			Lines:          req.Lines,
			RecordedAt:     now,
		})
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, event.WithActor(doctor))
	})
	if err != nil {
		span.RecordError(err)
		return nil, r.classify(err)
	}

	r.metrics.ConsultationRecorded()
	r.logger.Info("consultation recorded",
		zap.String("consultation_id", c.ID),
		zap.String("prescription_id", p.ID),
		zap.String("patient_id", c.PatientID),
		zap.String("doctor_id", c.DoctorID),
		zap.Int("lines", len(p.Lines)))

	return &Recorded{ConsultationID: c.ID, PrescriptionID: p.ID}, nil
}

// classify leaves a missing patient visible to the caller; every other
// failure is a rolled back transaction
func (r *Recorder) classify(err error) error {
	var nf *domain.NotFoundError
	if errors.As(err, &nf) && nf.Entity == "patient" {
		return err
	}
	r.logger.Error("consultation rolled back", zap.Error(err))
	return &domain.TransactionError{Op: "record consultation", Err: err}
}
