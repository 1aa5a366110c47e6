package reconcile

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/posting"
)

// Repository reads integrity aggregates from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SlotTotals pairs each slot with the sum of its movements.
func (r *Repository) SlotTotals(ctx context.Context) ([]SlotTotal, error) {
	if r == nil {
		return nil, errors.New("reconcile repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT s.item_id, s.location_id, s.qty, s.opening_qty, COALESCE(SUM(m.new_qty - m.prev_qty), 0)
FROM stock_slots s
LEFT JOIN stock_movements m ON m.item_id = s.item_id AND m.location_id = s.location_id
GROUP BY s.item_id, s.location_id, s.qty, s.opening_qty
ORDER BY s.item_id, s.location_id`)
	if err != nil {
		return nil, db.MapError("slot totals", err)
	}
	totals, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SlotTotal, error) {
		var t SlotTotal
		err := row.Scan(&t.ItemID, &t.LocationID, &t.Qty, &t.OpeningQty, &t.MovementSum)
		return t, err
	})
	if err != nil {
		return nil, db.MapError("slot totals", err)
	}
	return totals, nil
}

// CustomerTotals pairs each customer with the sum of its entries.
func (r *Repository) CustomerTotals(ctx context.Context) ([]CustomerTotal, error) {
	if r == nil {
		return nil, errors.New("reconcile repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT c.id, c.opening_balance, c.balance, COALESCE(SUM(e.debit), 0), COALESCE(SUM(e.credit), 0)
FROM customers c
LEFT JOIN ledger_entries e ON e.customer_id = c.id
GROUP BY c.id, c.opening_balance, c.balance
ORDER BY c.id`)
	if err != nil {
		return nil, db.MapError("customer totals", err)
	}
	totals, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (CustomerTotal, error) {
		var t CustomerTotal
		err := row.Scan(&t.CustomerID, &t.OpeningBalance, &t.Balance, &t.Debit, &t.Credit)
		return t, err
	})
	if err != nil {
		return nil, db.MapError("customer totals", err)
	}
	return totals, nil
}

// DuplicateReferences lists references owning more than one entry. The unique constraint makes
// this empty unless the constraint was dropped or data was loaded around it.
func (r *Repository) DuplicateReferences(ctx context.Context) ([]DuplicateRef, error) {
	if r == nil {
		return nil, errors.New("reconcile repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT ref_id, COUNT(*) FROM ledger_entries GROUP BY ref_id HAVING COUNT(*) > 1 ORDER BY ref_id`)
	if err != nil {
		return nil, db.MapError("duplicate references", err)
	}
	dups, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (DuplicateRef, error) {
		var d DuplicateRef
		err := row.Scan(&d.RefID, &d.Count)
		return d, err
	})
	if err != nil {
		return nil, db.MapError("duplicate references", err)
	}
	return dups, nil
}

// DocumentFootprints returns every stored document and the movement sums per reference and
// slot, both read from one snapshot.
func (r *Repository) DocumentFootprints(ctx context.Context) ([]posting.Document, []Footprint, error) {
	if r == nil {
		return nil, nil, errors.New("reconcile repository not initialised")
	}
	var (
		docs   []posting.Document
		prints []Footprint
	)
	err := db.WithSnapshot(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		if docs, err = posting.QueryDocuments(ctx, tx); err != nil {
			return err
		}
		prints, err = movementFootprints(ctx, tx)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return docs, prints, nil
}

func movementFootprints(ctx context.Context, q db.Querier) ([]Footprint, error) {
	rows, err := q.Query(ctx, `SELECT ref_type, ref_id, item_id, location_id, SUM(new_qty - prev_qty)
FROM stock_movements
GROUP BY ref_type, ref_id, item_id, location_id
ORDER BY ref_id, item_id, location_id`)
	if err != nil {
		return nil, db.MapError("movement footprints", err)
	}
	prints, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Footprint, error) {
		var f Footprint
		err := row.Scan(&f.RefType, &f.RefID, &f.ItemID, &f.LocationID, &f.Net)
		return f, err
	})
	if err != nil {
		return nil, db.MapError("movement footprints", err)
	}
	return prints, nil
}
