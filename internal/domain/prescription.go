package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PrescriptionStatus is the prescription lifecycle state
type PrescriptionStatus string

const (
	StatusPending   PrescriptionStatus = "PENDING"
	StatusDispensed PrescriptionStatus = "DISPENSED"
)

// Consultation is an append-only clinical record. It owns exactly one
// Prescription.
type Consultation struct {
	ID                   string        `json:"id"`
	PatientID            string        `json:"patientId"`
	DoctorID             string        `json:"doctorId"`
	DoctorName           string        `json:"doctorName,omitempty"`
	Diagnosis            string        `json:"diagnosis"`
	WeightAtConsultation *float64      `json:"weightAtConsultation,omitempty"`
	Attachments          []string      `json:"attachments"`
	CreatedAt            time.Time     `json:"createdAt"`
	Prescription         *Prescription `json:"prescription,omitempty"`
}

// Prescription moves from PENDING to DISPENSED exactly once
type Prescription struct {
	ID             string             `json:"id"`
	ConsultationID string             `json:"consultationId"`
	Status         PrescriptionStatus `json:"status"`
	DispensedAt    *time.Time         `json:"dispensedAt,omitempty"`
	DispensedBy    *string            `json:"dispensedByUserId,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	Lines          []PrescribedDrug   `json:"prescribedDrugs"`
	Bill           *Bill              `json:"bill,omitempty"`
}

// Dispensed reports whether the prescription has left PENDING
func (p *Prescription) Dispensed() bool {
	return p.Status == StatusDispensed
}

// PrescribedDrug is one line item. Quantity is the requested unit count.
type PrescribedDrug struct {
	ID             string `json:"id"`
	PrescriptionID string `json:"prescriptionId"`
	DrugID         string `json:"drugId"`
	DrugName       string `json:"drugName,omitempty"`
	Dosage         string `json:"dosage"`
	Quantity       int    `json:"quantity"`
}

// PrescriptionSummary is a list row for the pharmacy queues
type PrescriptionSummary struct {
	ID             string             `json:"id"`
	ConsultationID string             `json:"consultationId"`
	Status         PrescriptionStatus `json:"status"`
	PatientID      string             `json:"patientId"`
	PatientName    string             `json:"patientName"`
	PatientMobile  string             `json:"patientMobile"`
	DoctorName     string             `json:"doctorName"`
	ItemCount      int                `json:"itemCount"`
	CreatedAt      time.Time          `json:"createdAt"`
	DispensedAt    *time.Time         `json:"dispensedAt,omitempty"`
	TotalAmount    *decimal.Decimal   `json:"totalAmount,omitempty"`
}

// ConsultationRequest is the input to recording a consultation
type ConsultationRequest struct {
	PatientID            string        `json:"patientId"`
	Diagnosis            string        `json:"diagnosisNotes"`
	WeightAtConsultation *float64      `json:"weightAtConsultation,omitempty"`
	Attachments          []string      `json:"attachments,omitempty"`
	Lines                []LineRequest `json:"prescribedDrugs"`
}

// LineRequest is one requested drug in a ConsultationRequest
type LineRequest struct {
	DrugID   string `json:"drugId"`
	Dosage   string `json:"dosage"`
	Quantity int    `json:"quantity"`
}

// Validate runs before any write
func (r *ConsultationRequest) Validate() error {
	r.PatientID = strings.TrimSpace(r.PatientID)
	if r.PatientID == "" {
		return Invalid("patientId", "is required")
	}
	if strings.TrimSpace(r.Diagnosis) == "" {
		return Invalid("diagnosisNotes", "is required")
	}
	if r.WeightAtConsultation != nil && *r.WeightAtConsultation <= 0 {
		return Invalid("weightAtConsultation", "must be greater than zero")
	}
	if len(r.Lines) == 0 {
		return Invalid("prescribedDrugs", "at least one drug is required")
	}
	for i := range r.Lines {
		line := &r.Lines[i]
		line.DrugID = strings.TrimSpace(line.DrugID)
		line.Dosage = strings.TrimSpace(line.Dosage)
		if line.DrugID == "" {
			return Invalid("prescribedDrugs", "line %d: drugId is required", i+1)
		}
		if line.Dosage == "" {
			return Invalid("prescribedDrugs", "line %d: dosage is required", i+1)
		}
		if line.Quantity <= 0 {
			return Invalid("prescribedDrugs", "line %d: quantity must be greater than zero", i+1)
		}
	}
	for i, ref := range r.Attachments {
		if strings.TrimSpace(ref) == "" {
			return Invalid("attachments", "attachment %d is empty", i+1)
		}
	}
	return nil
}
