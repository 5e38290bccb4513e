// Package store defines the persistence contract shared by the Postgres and
// in-memory implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/drfirst/go-dispensary/internal/domain"
)

// ErrStaleStock is returned when a guarded stock decrement matched no row.
// It indicates a batch changed underneath a transaction that should hold its lock.
var ErrStaleStock = errors.New("stock item changed concurrently")

// TxFunc runs inside a transaction. Returning an error rolls it back.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the transaction-capable storage handle injected into services.
// Methods outside Tx read committed state only.
type Store interface {
	Ping(ctx context.Context) error

	// InTx runs fn in one all-or-nothing transaction. fn must only use tx,
	// never the Store, for reads and writes that belong to the unit.
	InTx(ctx context.Context, fn TxFunc) error

	CreateDrug(ctx context.Context, d *domain.Drug) error
	UpdateDrug(ctx context.Context, d *domain.Drug) error
	DeleteDrug(ctx context.Context, id string) error
	GetDrug(ctx context.Context, id string) (*domain.Drug, error)
	ListDrugs(ctx context.Context) ([]domain.Drug, error)

	ListStockItems(ctx context.Context, drugID string) ([]domain.StockItem, error)
	ListExpiringStock(ctx context.Context, before time.Time) ([]domain.StockItem, error)
	StockSummary(ctx context.Context) ([]domain.StockSummary, error)

	CreatePatient(ctx context.Context, p *domain.Patient) error
	GetPatient(ctx context.Context, id string) (*domain.Patient, error)
	ListPatients(ctx context.Context) ([]domain.Patient, error)
	SearchPatients(ctx context.Context, mobilePrefix string) ([]domain.Patient, error)
	ListConsultations(ctx context.Context, patientID string) ([]domain.Consultation, error)

	GetPrescription(ctx context.Context, id string) (*domain.Prescription, error)
	ListPrescriptions(ctx context.Context, status domain.PrescriptionStatus) ([]domain.PrescriptionSummary, error)

	ListBills(ctx context.Context, from, to time.Time) ([]domain.Bill, error)

	CreateUser(ctx context.Context, u *domain.User) error
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	CountUsers(ctx context.Context) (int, error)
}

// Tx is the set of operations available inside a transaction
type Tx interface {
	// LockPrescription loads a prescription with its lines and holds a row
	// lock on it until the transaction ends.
	LockPrescription(ctx context.Context, id string) (*domain.Prescription, error)
	// LockDispensableBatches returns the drug's batches with stock, expiry
	// ascending, locked until the transaction ends.
	LockDispensableBatches(ctx context.Context, drugID string) ([]domain.StockItem, error)
	// DeductStock decrements a batch and never lets it go below zero.
	DeductStock(ctx context.Context, stockItemID string, qty int) error
	InsertBill(ctx context.Context, b *domain.Bill) error
	// MarkDispensed flips PENDING to DISPENSED and fails with
	// domain.ErrAlreadyDispensed when the prescription is not PENDING.
	MarkDispensed(ctx context.Context, prescriptionID, userID string, at time.Time) error

	GetDrug(ctx context.Context, id string) (*domain.Drug, error)
	InsertStockItem(ctx context.Context, item *domain.StockItem) error

	GetPatient(ctx context.Context, id string) (*domain.Patient, error)
	UpdatePatientWeight(ctx context.Context, patientID string, weightKg float64) error
	InsertConsultation(ctx context.Context, c *domain.Consultation) error
	// InsertPrescription writes the prescription and its lines. An unknown
	// drug on a line fails with a *domain.NotFoundError for that drug.
	InsertPrescription(ctx context.Context, p *domain.Prescription) error

	AppendEvent(ctx context.Context, e *domain.Event) error
}
