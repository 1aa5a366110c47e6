package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock indicates an outflow larger than the available quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConcurrencyConflict indicates a lost race on a locked resource. Callers may retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrPersistence wraps storage failures.
	ErrPersistence = errors.New("persistence failure")
	// ErrUnsupportedTransition indicates a status change the engine does not implement.
	ErrUnsupportedTransition = errors.New("unsupported status transition")
	// ErrDuplicateDocument indicates a create for an id that already exists.
	ErrDuplicateDocument = errors.New("duplicate document")
)

// ValidationError lists offending fields.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: reason}}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientStockError reports the first slot that would go negative.
type InsufficientStockError struct {
	ItemID     string
	LocationID string
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s at %s: available %s, requested %s",
		e.ItemID, e.LocationID, e.Available.String(), e.Requested.String())
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// ConcurrencyConflictError wraps lock timeouts, serialization failures and stale versions.
type ConcurrencyConflictError struct {
	Resource string
	Err      error
}

func (e *ConcurrencyConflictError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("concurrency conflict on %s", e.Resource)
	}
	return fmt.Sprintf("concurrency conflict on %s: %v", e.Resource, e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConcurrencyConflict}
	}
	return []error{ErrConcurrencyConflict, e.Err}
}

// PersistenceError wraps a storage failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// TransitionError names a rejected status change.
type TransitionError struct {
	DocType string
	From    string
	To      string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s is not supported", e.DocType, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrUnsupportedTransition }

// IsRetryable reports whether the caller may retry the same command unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError reports whether the failure is caused by the request rather than the system.
func IsClientError(err error) bool {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrUnsupportedTransition),
		errors.Is(err, ErrDuplicateDocument):
		return true
	default:
		return false
	}
}
