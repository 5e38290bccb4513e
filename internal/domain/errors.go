package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the clinic error taxonomy. Structured errors below
// match these through errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyDispensed  = errors.New("prescription already dispensed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrTransaction       = errors.New("transaction failed")
	ErrConflict          = errors.New("conflict")
	ErrUnauthorized      = errors.New("unauthorized")
)

// ValidationError reports malformed or missing input for a single field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a referenced entity that does not exist
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a NotFoundError
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// InsufficientStockError names the short drug and by how much
type InsufficientStockError struct {
	DrugID    string
	DrugName  string
	Requested int
	Available int
}

// Shortfall is the number of units that could not be allocated
func (e *InsufficientStockError) Shortfall() int {
	return e.Requested - e.Available
}

func (e *InsufficientStockError) Error() string {
	name := e.DrugName
	if name == "" {
		name = e.DrugID
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d, short by %d",
		name, e.Requested, e.Available, e.Shortfall())
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// TransactionError wraps a storage failure inside a multi-step atomic operation.
// The operation has been rolled back when this is returned.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s: transaction rolled back: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

func (e *TransactionError) Is(target error) bool { return target == ErrTransaction }

// ConflictError reports a uniqueness or referential guard violation
type ConflictError struct {
	Entity string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Entity, e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Conflict builds a ConflictError
func Conflict(entity, reason string) error {
	return &ConflictError{Entity: entity, Reason: reason}
}
