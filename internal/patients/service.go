// Package patients registers patients and reads their clinical history
package patients

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/store"
)

// Service handles patient registration and lookup
type Service struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the service
func NewService(s store.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: s, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Register creates a patient with a unique mobile number
func (s *Service) Register(ctx context.Context, p domain.Patient) (*domain.Patient, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.ID = uuid.New().String()
	p.CreatedAt = s.now()
	if err := s.store.CreatePatient(ctx, &p); err != nil {
		return nil, err
	}
	s.logger.Info("patient registered", zap.String("patient_id", p.ID))
	return &p, nil
}

// List returns every patient, newest first
func (s *Service) List(ctx context.Context) ([]domain.Patient, error) {
	return s.store.ListPatients(ctx)
}

// SearchByMobile matches a mobile number prefix
func (s *Service) SearchByMobile(ctx context.Context, mobile string) ([]domain.Patient, error) {
	mobile = strings.TrimSpace(mobile)
	if mobile == "" {
		return nil, domain.Invalid("mobile", "is required")
	}
	return s.store.SearchPatients(ctx, mobile)
}

// History returns the patient with their consultations and prescriptions
func (s *Service) History(ctx context.Context, id string) (*domain.PatientHistory, error) {
	p, err := s.store.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}
	consultations, err := s.store.ListConsultations(ctx, id)
	if err != nil {
		return nil, err
	}
	if consultations == nil {
		consultations = []domain.Consultation{}
	}
	return &domain.PatientHistory{Patient: *p, Consultations: consultations}, nil
}
