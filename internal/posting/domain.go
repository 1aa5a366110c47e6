package posting

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/stock"
)

// DocumentType discriminates posting documents.
type DocumentType string

const (
	TypePurchase       DocumentType = "purchase"
	TypePurchaseReturn DocumentType = "purchase_return"
	TypeSale           DocumentType = "sale"
	TypeSaleReturn     DocumentType = "sales_return"
	TypeStockAudit     DocumentType = "stock_audit"
)

// Status enumerates document lifecycle states.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusPosted Status = "posted"
	// StatusCancelled is reserved. Transitions into or out of it are rejected.
	StatusCancelled Status = "cancelled"
)

// PayMode describes how a sale was settled.
type PayMode string

const (
	PayCash   PayMode = "cash"
	PayBank   PayMode = "bank"
	PayCredit PayMode = "credit"
)

// Line is one document row. SystemQty and Diff are filled in when a stock audit is posted.
type Line struct {
	ItemID      string          `json:"item_id" validate:"required,max=64"`
	LocationID  string          `json:"location_id,omitempty" validate:"max=64"`
	Quantity    decimal.Decimal `json:"quantity"`
	PhysicalQty decimal.Decimal `json:"physical_qty"`
	SystemQty   decimal.Decimal `json:"system_qty"`
	Diff        decimal.Decimal `json:"diff"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"gte=0"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// Document is a warehouse or sales document the engine posts.
type Document struct {
	ID         string          `json:"id" validate:"required,max=64"`
	Type       DocumentType    `json:"type" validate:"required,oneof=purchase purchase_return sale sales_return stock_audit"`
	Status     Status          `json:"status" validate:"required,oneof=draft posted cancelled"`
	Number     string          `json:"number,omitempty" validate:"max=64"`
	CustomerID string          `json:"customer_id,omitempty" validate:"max=64"`
	LocationID string          `json:"location_id,omitempty" validate:"max=64"`
	Date       time.Time       `json:"date"`
	NetTotal   decimal.Decimal `json:"net_total" validate:"gte=0"`
	PaidAmount decimal.Decimal `json:"paid_amount" validate:"gte=0"`
	PayMode    PayMode         `json:"pay_mode,omitempty" validate:"omitempty,oneof=cash bank credit"`
	PostingSeq int64           `json:"posting_seq"`
	ActorID    string          `json:"actor_id,omitempty"`
	Version    int64           `json:"version"`
	Lines      []Line          `json:"lines" validate:"dive"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Clone returns a copy that shares no line storage with d.
func (d Document) Clone() Document {
	out := d
	out.Lines = append([]Line(nil), d.Lines...)
	return out
}

// Ref is the human-facing reference used in remarks and ledger descriptions.
func (d Document) Ref() string {
	if d.Number != "" {
		return d.Number
	}
	return d.ID
}

// Location returns the line location, falling back to the document header.
func (l Line) Location(doc Document) string {
	if l.LocationID != "" {
		return l.LocationID
	}
	return doc.LocationID
}

// Result reports what a command did.
type Result struct {
	Document   Document
	Applied    []stock.Applied
	Skipped    []stock.Skipped
	Entry      *ledger.Entry
	Removal    *ledger.Removal
	PostingSeq int64
}

// EngineConfig groups optional settings.
type EngineConfig struct {
	// SkipMissingItems reports lines for unknown items in Result.Skipped instead of failing the command.
	SkipMissingItems bool
}

// ErrDocumentNotFound indicates a missing stored document.
var ErrDocumentNotFound = errors.New("posting: document not found")

func stockRef(t DocumentType) stock.RefType {
	switch t {
	case TypePurchase:
		return stock.RefPurchase
	case TypePurchaseReturn:
		return stock.RefPurchaseReturn
	case TypeSale:
		return stock.RefSale
	case TypeSaleReturn:
		return stock.RefSalesReturn
	default:
		return stock.RefAudit
	}
}

func (t DocumentType) label() string {
	switch t {
	case TypePurchase:
		return "Purchase"
	case TypePurchaseReturn:
		return "Purchase return"
	case TypeSale:
		return "Sale"
	case TypeSaleReturn:
		return "Sale return"
	default:
		return "Stock audit"
	}
}
