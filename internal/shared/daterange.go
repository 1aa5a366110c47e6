package shared

import (
	"errors"
	"time"
)

// ErrInvalidDateRange indicates From after To.
var ErrInvalidDateRange = errors.New("date range start after end")

// DateRange bounds a query. Zero bounds are open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Validate rejects inverted ranges.
func (r DateRange) Validate() error {
	if !r.From.IsZero() && !r.To.IsZero() && r.From.After(r.To) {
		return ErrInvalidDateRange
	}
	return nil
}

// Contains reports whether t falls inside the inclusive range.
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// Before reports whether t is strictly earlier than the range start.
func (r DateRange) Before(t time.Time) bool {
	return !r.From.IsZero() && t.Before(r.From)
}
