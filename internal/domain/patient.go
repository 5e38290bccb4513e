package domain

import (
	"strings"
	"time"
)

// Patient is a registered clinic patient. CurrentWeightKg holds the latest
// weight; each Consultation keeps the weight measured at the time.
type Patient struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	MobileNumber    string    `json:"mobileNumber"`
	CurrentWeightKg *float64  `json:"currentWeightKg,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Validate checks registration input
func (p *Patient) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	p.MobileNumber = strings.TrimSpace(p.MobileNumber)
	if p.Name == "" {
		return Invalid("name", "is required")
	}
	if p.MobileNumber == "" {
		return Invalid("mobileNumber", "is required")
	}
	if p.CurrentWeightKg != nil && *p.CurrentWeightKg <= 0 {
		return Invalid("currentWeightKg", "must be greater than zero")
	}
	return nil
}

// PatientHistory is a patient with their consultations, newest first
type PatientHistory struct {
	Patient       Patient        `json:"patient"`
	Consultations []Consultation `json:"consultations"`
}
