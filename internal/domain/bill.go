package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bill is the pharmacy bill issued once per dispensed prescription
type Bill struct {
	ID             string          `json:"id"`
	PrescriptionID string          `json:"prescriptionId"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	IssuedAt       time.Time       `json:"issuedAt"`
	PatientName    string          `json:"patientName,omitempty"`
}

// Allocation is the part of one line item served from one batch
type Allocation struct {
	StockItemID string          `json:"stockItemId"`
	BatchNumber string          `json:"batchNumber"`
	DrugID      string          `json:"drugId"`
	ExpiryDate  time.Time       `json:"expiryDate"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

// Amount is Quantity times the batch selling price
func (a Allocation) Amount() decimal.Decimal {
	return a.UnitPrice.Mul(decimal.NewFromInt(int64(a.Quantity)))
}

// IncomeSummary sums bills issued in a period
type IncomeSummary struct {
	From      time.Time       `json:"from"`
	To        time.Time       `json:"to"`
	BillCount int             `json:"billCount"`
	Total     decimal.Decimal `json:"total"`
}
