package reconcile

import (
	"time"

	"github.com/shopspring/decimal"
)

// SlotTotal pairs a slot's stored quantity with the sum of its movements.
type SlotTotal struct {
	ItemID      string
	LocationID  string
	Qty         decimal.Decimal
	OpeningQty  decimal.Decimal
	MovementSum decimal.Decimal
}

// CustomerTotal pairs a customer's cached balance with the sum of its entries.
type CustomerTotal struct {
	CustomerID     string
	OpeningBalance decimal.Decimal
	Balance        decimal.Decimal
	Debit          decimal.Decimal
	Credit         decimal.Decimal
}

// DuplicateRef is a reference owning more than one ledger entry.
type DuplicateRef struct {
	RefID string `json:"ref_id"`
	Count int    `json:"count"`
}

// Footprint is the net movement of one reference on one slot.
type Footprint struct {
	RefType    string
	RefID      string
	ItemID     string
	LocationID string
	Net        decimal.Decimal
}

// SlotViolation reports a slot whose quantity disagrees with its movements.
type SlotViolation struct {
	ItemID     string          `json:"item_id"`
	LocationID string          `json:"location_id"`
	Stored     decimal.Decimal `json:"stored"`
	Expected   decimal.Decimal `json:"expected"`
}

// BalanceViolation reports a customer whose cached balance disagrees with its entries.
type BalanceViolation struct {
	CustomerID string          `json:"customer_id"`
	Stored     decimal.Decimal `json:"stored"`
	Expected   decimal.Decimal `json:"expected"`
}

// DocumentViolation reports a document whose movements disagree with its status and lines.
type DocumentViolation struct {
	DocumentID string          `json:"document_id"`
	ItemID     string          `json:"item_id"`
	LocationID string          `json:"location_id"`
	Expected   decimal.Decimal `json:"expected"`
	Actual     decimal.Decimal `json:"actual"`
}

// Report is the outcome of one integrity run.
type Report struct {
	CheckedAt          time.Time           `json:"checked_at"`
	Slots              int                 `json:"slots"`
	Customers          int                 `json:"customers"`
	Documents          int                 `json:"documents"`
	SlotViolations     []SlotViolation     `json:"slot_violations"`
	BalanceViolations  []BalanceViolation  `json:"balance_violations"`
	DuplicateRefs      []DuplicateRef      `json:"duplicate_refs"`
	DocumentViolations []DocumentViolation `json:"document_violations"`
}

// OK reports whether no invariant was broken.
func (r Report) OK() bool {
	return len(r.SlotViolations) == 0 &&
		len(r.BalanceViolations) == 0 &&
		len(r.DuplicateRefs) == 0 &&
		len(r.DocumentViolations) == 0
}

// ViolationCount totals every violation in the report.
func (r Report) ViolationCount() int {
	return len(r.SlotViolations) + len(r.BalanceViolations) + len(r.DuplicateRefs) + len(r.DocumentViolations)
}
