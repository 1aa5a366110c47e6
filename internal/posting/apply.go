package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/stock"
)

var decimalZero = decimal.Zero

const (
	actionPosted   = "posted"
	actionReversed = "reversed"
	actionEdited   = "edited"
)

// outflow reports whether forward application of the type removes stock and must be pre-validated.
func outflow(t DocumentType) bool {
	return t == TypeSale || t == TypePurchaseReturn
}

func carriesLedger(t DocumentType) bool {
	return t == TypeSale || t == TypeSaleReturn
}

// apply posts doc for the first time. The posting sequence is assigned only when still unset.
func (e *Engine) apply(ctx context.Context, tx TxRepository, doc *Document, res *Result) error {
	if doc.PostingSeq == 0 {
		seq, err := tx.NextPostingSeq(ctx, doc.Type)
		if err != nil {
			return err
		}
		doc.PostingSeq = seq
	}
	if doc.Type == TypeStockAudit {
		return e.postAudit(ctx, tx, doc, res)
	}
	eff := EffectOf(*doc)
	if err := e.checkAvailability(ctx, tx, *doc, netDeltas(nil, eff.Stock)); err != nil {
		return err
	}
	for _, d := range eff.Stock {
		if err := e.applyDelta(ctx, tx, *doc, d, actionPosted, outflow(doc.Type), res); err != nil {
			return err
		}
	}
	return e.writeLedger(ctx, tx, *doc, eff.Ledger, res)
}

// reverse undoes the effect of a stored posted document.
func (e *Engine) reverse(ctx context.Context, tx TxRepository, stored Document, fallback *ledger.Fallback, res *Result) error {
	if stored.Type == TypeStockAudit {
		return e.reverseAudit(ctx, tx, stored, res)
	}
	for _, d := range EffectOf(stored).Reverse() {
		if err := e.applyDelta(ctx, tx, stored, d, actionReversed, false, res); err != nil {
			return err
		}
	}
	if !carriesLedger(stored.Type) && fallback == nil {
		return nil
	}
	return e.removeLedger(ctx, tx, stored, fallback, res)
}

// repost replaces the effect of stored with the effect of next using one movement per changed
// item and location.
func (e *Engine) repost(ctx context.Context, tx TxRepository, stored Document, next *Document, res *Result) error {
	before := EffectOf(stored)
	after := EffectOf(*next)
	changes := netDeltas(before.Stock, after.Stock)
	if err := e.checkAvailability(ctx, tx, *next, changes); err != nil {
		return err
	}
	for _, c := range changes {
		d := StockDelta{ItemID: c.ItemID, LocationID: c.LocationID, Delta: c.Net}
		if err := e.applyDelta(ctx, tx, *next, d, actionEdited, outflow(next.Type), res); err != nil {
			return err
		}
	}
	if !carriesLedger(stored.Type) {
		return nil
	}
	if err := e.removeLedger(ctx, tx, stored, nil, res); err != nil {
		return err
	}
	return e.writeLedger(ctx, tx, *next, after.Ledger, res)
}

// checkAvailability validates every decreasing key before any mutation so that an outflow
// document is applied entirely or not at all.
func (e *Engine) checkAvailability(ctx context.Context, tx TxRepository, doc Document, changes []netChange) error {
	if !outflow(doc.Type) {
		return nil
	}
	for _, c := range changes {
		if !c.Net.IsNegative() {
			continue
		}
		current, err := e.stock.Current(ctx, tx, c.ItemID, c.LocationID)
		if err != nil {
			if e.skippable(err) {
				continue
			}
			return err
		}
		available := current.Add(c.OldOut)
		if available.LessThan(c.NewOut) {
			if e.metrics != nil {
				e.metrics.ObserveStockRejection(string(doc.Type))
			}
			return &shared.InsufficientStockError{
				ItemID:     c.ItemID,
				LocationID: c.LocationID,
				Available:  available,
				Requested:  c.NewOut,
			}
		}
	}
	return nil
}

func (e *Engine) applyDelta(ctx context.Context, tx TxRepository, doc Document, d StockDelta, action string, guard bool, res *Result) error {
	if d.Delta.IsZero() {
		return nil
	}
	applied, err := e.stock.ApplyDelta(ctx, tx, stock.DeltaInput{
		ItemID:        d.ItemID,
		LocationID:    d.LocationID,
		Delta:         d.Delta,
		RefType:       stockRef(doc.Type),
		RefID:         doc.ID,
		Remark:        remark(doc, action),
		ActorID:       doc.ActorID,
		AllowNegative: !guard,
	})
	if err != nil {
		return e.skipOrFail(err, d, res)
	}
	res.Applied = append(res.Applied, applied)
	return nil
}

func (e *Engine) writeLedger(ctx context.Context, tx TxRepository, doc Document, eff *LedgerEffect, res *Result) error {
	if eff == nil {
		return nil
	}
	entry, err := e.ledger.Upsert(ctx, tx, ledger.UpsertInput{
		CustomerID:  eff.CustomerID,
		RefType:     eff.RefType,
		RefID:       doc.ID,
		Date:        doc.Date,
		Description: fmt.Sprintf("%s %s", doc.Type.label(), doc.Ref()),
		Debit:       eff.Debit,
		Credit:      eff.Credit,
	})
	if err != nil {
		return err
	}
	res.Entry = &entry
	if e.metrics != nil {
		e.metrics.ObserveLedgerWrite("upsert")
	}
	return nil
}

func (e *Engine) removeLedger(ctx context.Context, tx TxRepository, stored Document, fallback *ledger.Fallback, res *Result) error {
	removal, err := e.ledger.RemoveByReference(ctx, tx, stored.ID, fallback)
	if err != nil {
		return err
	}
	res.Removal = &removal
	switch {
	case removal.FallbackApplied:
		e.logger.Warn("ledger reversed from fallback amounts",
			slog.String("doc_id", stored.ID),
			slog.String("customer_id", removal.CustomerID))
		if e.metrics != nil {
			e.metrics.ObserveLedgerWrite("fallback")
		}
	case removal.Removed:
		if e.metrics != nil {
			e.metrics.ObserveLedgerWrite("remove")
		}
	}
	return nil
}

func (e *Engine) skippable(err error) bool {
	var nf *stock.ItemNotFoundError
	return e.cfg.SkipMissingItems && errors.As(err, &nf)
}

func (e *Engine) skipOrFail(err error, d StockDelta, res *Result) error {
	if !e.skippable(err) {
		return err
	}
	res.Skipped = append(res.Skipped, stock.Skipped{
		ItemID:     d.ItemID,
		LocationID: d.LocationID,
		Delta:      d.Delta,
		Reason:     err.Error(),
	})
	e.logger.Warn("skipped line for missing item",
		slog.String("item_id", d.ItemID),
		slog.String("location_id", d.LocationID))
	return nil
}

func remark(doc Document, action string) string {
	return fmt.Sprintf("%s %s %s", doc.Type.label(), doc.Ref(), action)
}
