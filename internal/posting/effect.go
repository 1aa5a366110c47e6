package posting

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/ledger"
)

// StockDelta is a signed quantity change for one line.
type StockDelta struct {
	ItemID     string
	LocationID string
	Delta      decimal.Decimal
}

// LedgerEffect is the entry a posted document owns.
type LedgerEffect struct {
	CustomerID string
	RefType    ledger.RefType
	Debit      decimal.Decimal
	Credit     decimal.Decimal
}

// Effect is the full contribution of a posted document. Stock audits have none; they set
// absolute quantities at post time instead.
type Effect struct {
	Stock  []StockDelta
	Ledger *LedgerEffect
}

// EffectOf derives the effect of doc as if it were posted.
func EffectOf(doc Document) Effect {
	var sign decimal.Decimal
	switch doc.Type {
	case TypePurchase, TypeSaleReturn:
		sign = decimal.NewFromInt(1)
	case TypePurchaseReturn, TypeSale:
		sign = decimal.NewFromInt(-1)
	default:
		return Effect{}
	}
	eff := Effect{Stock: make([]StockDelta, 0, len(doc.Lines))}
	for _, line := range doc.Lines {
		eff.Stock = append(eff.Stock, StockDelta{
			ItemID:     line.ItemID,
			LocationID: line.Location(doc),
			Delta:      line.Quantity.Mul(sign),
		})
	}
	if doc.CustomerID == "" {
		return eff
	}
	switch doc.Type {
	case TypeSale:
		credit := decimal.Zero
		if doc.PayMode == PayCash || doc.PayMode == PayBank {
			credit = doc.PaidAmount
		}
		eff.Ledger = &LedgerEffect{CustomerID: doc.CustomerID, RefType: ledger.RefSale, Debit: doc.NetTotal, Credit: credit}
	case TypeSaleReturn:
		eff.Ledger = &LedgerEffect{CustomerID: doc.CustomerID, RefType: ledger.RefSalesReturn, Debit: decimal.Zero, Credit: doc.NetTotal}
	}
	return eff
}

// Reverse negates every stock delta and keeps the original order reversed.
func (e Effect) Reverse() []StockDelta {
	out := make([]StockDelta, 0, len(e.Stock))
	for i := len(e.Stock) - 1; i >= 0; i-- {
		d := e.Stock[i]
		d.Delta = d.Delta.Neg()
		out = append(out, d)
	}
	return out
}

type slotKey struct {
	ItemID     string
	LocationID string
}

// netChange aggregates a key's old and new contribution.
type netChange struct {
	slotKey
	Net    decimal.Decimal
	OldOut decimal.Decimal
	NewOut decimal.Decimal
}

// netDeltas combines the reversal of before with the application of after, per item and location.
// Keys whose net change is zero are dropped. The result is sorted by key.
func netDeltas(before, after []StockDelta) []netChange {
	acc := make(map[slotKey]*netChange)
	get := func(d StockDelta) *netChange {
		k := slotKey{ItemID: d.ItemID, LocationID: d.LocationID}
		c, ok := acc[k]
		if !ok {
			c = &netChange{slotKey: k, Net: decimal.Zero, OldOut: decimal.Zero, NewOut: decimal.Zero}
			acc[k] = c
		}
		return c
	}
	for _, d := range before {
		c := get(d)
		c.Net = c.Net.Sub(d.Delta)
		if d.Delta.IsNegative() {
			c.OldOut = c.OldOut.Add(d.Delta.Neg())
		}
	}
	for _, d := range after {
		c := get(d)
		c.Net = c.Net.Add(d.Delta)
		if d.Delta.IsNegative() {
			c.NewOut = c.NewOut.Add(d.Delta.Neg())
		}
	}
	out := make([]netChange, 0, len(acc))
	for _, c := range acc {
		if c.Net.IsZero() {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].LocationID < out[j].LocationID
	})
	return out
}
