// Package stockimport loads counted quantities from a spreadsheet and sets each slot through the
// stock mutator.
package stockimport

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/stock"
)

// Row is one parsed spreadsheet line. Line is the 1-based sheet row.
type Row struct {
	Line       int             `json:"line"`
	ItemID     string          `json:"item_id" validate:"required,max=64"`
	LocationID string          `json:"location_id" validate:"required,max=64"`
	Qty        decimal.Decimal `json:"qty" validate:"gte=0"`
}

// RowError explains why a row was not applied.
type RowError struct {
	Line   int
	Field  string
	Reason string
}

func (e RowError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("row %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("row %d: %s: %s", e.Line, e.Field, e.Reason)
}

// Report summarises one import run.
type Report struct {
	BatchID    string
	Rows       int
	Applied    []stock.Applied
	Duplicates int
	Errors     []RowError
}

// OK reports whether every row was either applied or already imported.
func (r Report) OK() bool { return len(r.Errors) == 0 }

var (
	// ErrEmptySheet indicates the workbook has no data rows.
	ErrEmptySheet = errors.New("stockimport: sheet has no data rows")
	// ErrMissingColumn indicates a required header is absent.
	ErrMissingColumn = errors.New("stockimport: required column missing")
)

// BatchID derives a stable batch id from the file content so that re-importing the same file
// hits the same idempotency keys.
func BatchID(content []byte) string {
	return uuid.NewSHA1(uuid.Nil, content).String()
}

func rowKey(batchID string, line int) string {
	return fmt.Sprintf("stockimport:%s:%d", batchID, line)
}
