// Package domain holds the clinic, pharmacy and billing model shared by the
// storage layer, the dispensing engine and the HTTP API.
package domain

import (
	"strings"
	"time"
)

// DosageForm is the physical form a drug is supplied in
type DosageForm string

const (
	FormTablet           DosageForm = "TABLET"
	FormCapsule          DosageForm = "CAPSULE"
	FormSyrupLiquid      DosageForm = "SYRUP_LIQUID"
	FormInjection        DosageForm = "INJECTION"
	FormCreamOintmentGel DosageForm = "CREAM_OINTMENT_GEL"
	FormDrops            DosageForm = "DROPS"
	FormInhaler          DosageForm = "INHALER"
)

// DosageForms lists every accepted dosage form in display order
var DosageForms = []DosageForm{
	FormTablet,
	FormCapsule,
	FormSyrupLiquid,
	FormInjection,
	FormCreamOintmentGel,
	FormDrops,
	FormInhaler,
}

// Valid reports whether f is one of the known dosage forms
func (f DosageForm) Valid() bool {
	for _, known := range DosageForms {
		if f == known {
			return true
		}
	}
	return false
}

// ParseDosageForm normalizes user input such as "tablet" to a DosageForm
func ParseDosageForm(s string) (DosageForm, error) {
	f := DosageForm(strings.ToUpper(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", Invalid("dosageForm", "unknown dosage form %q", s)
	}
	return f, nil
}

// Drug is a catalog entry. Stock is held in StockItem batches.
type Drug struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	DosageForm DosageForm `json:"dosageForm"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Validate checks the fields an admin must supply
func (d *Drug) Validate() error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return Invalid("name", "is required")
	}
	form, err := ParseDosageForm(string(d.DosageForm))
	if err != nil {
		return err
	}
	d.DosageForm = form
	return nil
}
