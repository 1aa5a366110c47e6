package stock

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Direction classifies a movement.
type Direction string

const (
	// DirectionIn represents an inbound movement.
	DirectionIn Direction = "in"
	// DirectionOut represents an outbound movement.
	DirectionOut Direction = "out"
	// DirectionAudit represents a signed correction from a physical count.
	DirectionAudit Direction = "audit"
)

// RefType names the kind of document a movement belongs to.
type RefType string

const (
	RefPurchase       RefType = "purchase"
	RefPurchaseReturn RefType = "purchase_return"
	RefSale           RefType = "sale"
	RefSalesReturn    RefType = "sales_return"
	RefAudit          RefType = "audit"
	RefImport         RefType = "import"
)

// Item is a stock-keeping unit with its per-location slots.
type Item struct {
	ID    string
	Name  string
	Slots []Slot
}

// Slot holds the quantity of an item at one location.
type Slot struct {
	ItemID     string
	LocationID string
	Qty        decimal.Decimal
	OpeningQty decimal.Decimal
	UpdatedAt  time.Time
}

// Movement is an immutable record of one quantity change.
// Qty is unsigned for in/out and signed for audit.
type Movement struct {
	ID         string
	ItemID     string
	LocationID string
	Direction  Direction
	Qty        decimal.Decimal
	PrevQty    decimal.Decimal
	NewQty     decimal.Decimal
	RefType    RefType
	RefID      string
	Remark     string
	ActorID    string
	CreatedAt  time.Time
}

// Delta returns the signed quantity change the movement applied.
func (m Movement) Delta() decimal.Decimal {
	return m.NewQty.Sub(m.PrevQty)
}

// DeltaInput describes a signed change applied through the Mutator.
type DeltaInput struct {
	ItemID        string
	LocationID    string
	Delta         decimal.Decimal
	Direction     Direction
	RefType       RefType
	RefID         string
	Remark        string
	ActorID       string
	AllowNegative bool
}

// SetInput describes an absolute quantity set through the Mutator.
type SetInput struct {
	ItemID     string
	LocationID string
	Qty        decimal.Decimal
	RefType    RefType
	RefID      string
	Remark     string
	ActorID    string
}

// Applied reports a completed mutation.
type Applied struct {
	ItemID     string
	LocationID string
	PrevQty    decimal.Decimal
	NewQty     decimal.Decimal
	Diff       decimal.Decimal
	MovementID string
}

// Skipped reports a line that was not applied and why.
type Skipped struct {
	ItemID     string
	LocationID string
	Delta      decimal.Decimal
	Reason     string
}

// MovementFilter scopes movement log queries.
type MovementFilter struct {
	ItemID     string
	LocationID string
	Range      shared.DateRange
	// Limit caps the result; zero returns every matching movement.
	Limit int
}

var (
	// ErrItemNotFound indicates the item does not exist.
	ErrItemNotFound = errors.New("stock: item not found")
	// ErrSlotNotFound indicates the item has no row for the location yet.
	ErrSlotNotFound = errors.New("stock: slot not found")
	// ErrNegativeStock indicates a mutation would leave a slot below zero.
	ErrNegativeStock = errors.New("stock: quantity would become negative")
)

// ItemNotFoundError names the missing item.
type ItemNotFoundError struct {
	ItemID string
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("stock: item %s not found", e.ItemID)
}

func (e *ItemNotFoundError) Unwrap() []error {
	return []error{ErrItemNotFound, shared.ErrNotFound}
}

// NegativeStockError is returned by the Mutator when a guarded delta would go below zero.
type NegativeStockError struct {
	ItemID     string
	LocationID string
	Current    decimal.Decimal
	Delta      decimal.Decimal
}

func (e *NegativeStockError) Error() string {
	return fmt.Sprintf("stock: item %s at %s would go negative (current %s, delta %s)",
		e.ItemID, e.LocationID, e.Current.String(), e.Delta.String())
}

func (e *NegativeStockError) Unwrap() []error {
	return []error{ErrNegativeStock, shared.ErrInsufficientStock}
}
