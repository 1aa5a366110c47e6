package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RefType names the kind of document an entry belongs to.
type RefType string

const (
	RefSale        RefType = "sale"
	RefSalesReturn RefType = "sales_return"
)

// Customer holds the opening anchor and the cached running balance.
type Customer struct {
	ID             string
	Name           string
	OpeningBalance decimal.Decimal
	Balance        decimal.Decimal
	UpdatedAt      time.Time
}

// Entry is one ledger line. At most one entry exists per RefID.
type Entry struct {
	ID          string
	CustomerID  string
	Date        time.Time
	Description string
	RefType     RefType
	RefID       string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Balance     decimal.Decimal
	CreatedAt   time.Time
}

// Net returns debit minus credit.
func (e Entry) Net() decimal.Decimal {
	return e.Debit.Sub(e.Credit)
}

// UpsertInput describes the entry a posted document should own.
type UpsertInput struct {
	CustomerID  string
	RefType     RefType
	RefID       string
	Date        time.Time
	Description string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
}

// Fallback carries the amounts to reverse when a legacy document has no stored entry.
type Fallback struct {
	CustomerID string
	Debit      decimal.Decimal
	Credit     decimal.Decimal
}

// Removal reports what RemoveByReference did.
type Removal struct {
	Removed         bool
	FallbackApplied bool
	CustomerID      string
	Debit           decimal.Decimal
	Credit          decimal.Decimal
}

// StatementLine is an entry with the running balance recomputed in date order.
type StatementLine struct {
	Entry
	Running decimal.Decimal
}

// Statement is a customer's ledger over a date range.
type Statement struct {
	Customer    Customer
	Range       shared.DateRange
	Opening     decimal.Decimal
	Lines       []StatementLine
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
	Closing     decimal.Decimal
}

// ResyncResult reports a cached balance correction.
type ResyncResult struct {
	CustomerID string
	Before     decimal.Decimal
	After      decimal.Decimal
	Drift      decimal.Decimal
}

var (
	// ErrCustomerNotFound indicates a missing customer row.
	ErrCustomerNotFound = errors.New("ledger: customer not found")
	// ErrEntryNotFound indicates no entry exists for a reference.
	ErrEntryNotFound = errors.New("ledger: entry not found")
)

func customerNotFound(id string) error {
	return &shared.NotFoundError{Entity: "customer", ID: id}
}
