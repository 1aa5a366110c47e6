package posting

import (
	"context"

	"github.com/odyssey-erp/backoffice/internal/stock"
)

// postAudit sets every counted slot to its physical quantity and stores the system quantity and
// diff on the line.
func (e *Engine) postAudit(ctx context.Context, tx TxRepository, doc *Document, res *Result) error {
	for i := range doc.Lines {
		line := &doc.Lines[i]
		location := line.Location(*doc)
		applied, err := e.stock.SetQuantity(ctx, tx, stock.SetInput{
			ItemID:     line.ItemID,
			LocationID: location,
			Qty:        line.PhysicalQty,
			RefType:    stock.RefAudit,
			RefID:      doc.ID,
			Remark:     remark(*doc, actionPosted),
			ActorID:    doc.ActorID,
		})
		if err != nil {
			if err := e.skipOrFail(err, StockDelta{ItemID: line.ItemID, LocationID: location, Delta: line.PhysicalQty}, res); err != nil {
				return err
			}
			continue
		}
		line.SystemQty = applied.PrevQty
		line.Diff = applied.Diff
		res.Applied = append(res.Applied, applied)
	}
	return nil
}

// reverseAudit subtracts each stored diff, last line first. Physical quantities are not re-read.
func (e *Engine) reverseAudit(ctx context.Context, tx TxRepository, stored Document, res *Result) error {
	for i := len(stored.Lines) - 1; i >= 0; i-- {
		line := stored.Lines[i]
		location := line.Location(stored)
		applied, err := e.stock.ApplyDelta(ctx, tx, stock.DeltaInput{
			ItemID:        line.ItemID,
			LocationID:    location,
			Delta:         line.Diff.Neg(),
			Direction:     stock.DirectionAudit,
			RefType:       stock.RefAudit,
			RefID:         stored.ID,
			Remark:        remark(stored, actionReversed),
			ActorID:       stored.ActorID,
			AllowNegative: true,
		})
		if err != nil {
			if err := e.skipOrFail(err, StockDelta{ItemID: line.ItemID, LocationID: location, Delta: line.Diff.Neg()}, res); err != nil {
				return err
			}
			continue
		}
		res.Applied = append(res.Applied, applied)
	}
	return nil
}
