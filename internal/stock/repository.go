package stock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Repository persists stock data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	q db.Querier
}

// NewTxRepository binds the transactional operations to an open transaction.
func NewTxRepository(q db.Querier) TxRepository {
	return &txRepository{q: q}
}

// WithStockTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithStockTx(ctx context.Context, fn func(context.Context, TxRepository, KeyClaimer) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx), shared.NewIdempotencyStore(tx))
	})
}

// GetItem loads an item with every slot.
func (r *Repository) GetItem(ctx context.Context, itemID string) (Item, error) {
	if r == nil {
		return Item{}, errors.New("stock repository not initialised")
	}
	var item Item
	err := r.pool.QueryRow(ctx, `SELECT id, name FROM items WHERE id=$1`, itemID).Scan(&item.ID, &item.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, db.MapError("get item", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT item_id, location_id, qty, opening_qty, updated_at
FROM stock_slots WHERE item_id=$1 ORDER BY location_id`, itemID)
	if err != nil {
		return Item{}, db.MapError("list slots", err)
	}
	defer rows.Close()
	for rows.Next() {
		var slot Slot
		if err := rows.Scan(&slot.ItemID, &slot.LocationID, &slot.Qty, &slot.OpeningQty, &slot.UpdatedAt); err != nil {
			return Item{}, db.MapError("scan slot", err)
		}
		item.Slots = append(item.Slots, slot)
	}
	if err := rows.Err(); err != nil {
		return Item{}, db.MapError("list slots", err)
	}
	return item, nil
}

// ListMovements returns the movement log ordered oldest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if r == nil {
		return nil, errors.New("stock repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, location_id, direction, qty, prev_qty, new_qty, ref_type, ref_id, remark, actor_id, created_at
FROM stock_movements
WHERE item_id=$1 AND ($2 = '' OR location_id=$2)
  AND created_at BETWEEN COALESCE($3, '-infinity'::timestamptz) AND COALESCE($4, 'infinity'::timestamptz)
ORDER BY created_at ASC, seq ASC
LIMIT $5`, filter.ItemID, filter.LocationID, nullTime(filter.Range.From), nullTime(filter.Range.To), limitArg(filter.Limit))
	if err != nil {
		return nil, db.MapError("list movements", err)
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		var direction, refType string
		if err := rows.Scan(&m.ID, &m.ItemID, &m.LocationID, &direction, &m.Qty, &m.PrevQty, &m.NewQty, &refType, &m.RefID, &m.Remark, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, db.MapError("scan movement", err)
		}
		m.Direction = Direction(direction)
		m.RefType = RefType(refType)
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, db.MapError("list movements", err)
	}
	return movements, nil
}

func (r *txRepository) GetItem(ctx context.Context, itemID string) (Item, error) {
	var item Item
	err := r.q.QueryRow(ctx, `SELECT id, name FROM items WHERE id=$1`, itemID).Scan(&item.ID, &item.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, db.MapError("get item", err)
	}
	return item, nil
}

func (r *txRepository) GetSlotForUpdate(ctx context.Context, itemID, locationID string) (Slot, error) {
	var slot Slot
	err := r.q.QueryRow(ctx, `SELECT item_id, location_id, qty, opening_qty, updated_at
FROM stock_slots WHERE item_id=$1 AND location_id=$2 FOR UPDATE`, itemID, locationID).
		Scan(&slot.ItemID, &slot.LocationID, &slot.Qty, &slot.OpeningQty, &slot.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Slot{ItemID: itemID, LocationID: locationID}, ErrSlotNotFound
		}
		return Slot{}, db.MapError("lock slot", err)
	}
	return slot, nil
}

func (r *txRepository) UpsertSlot(ctx context.Context, slot Slot) error {
	_, err := r.q.Exec(ctx, `INSERT INTO stock_slots (item_id, location_id, qty, opening_qty, updated_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (item_id, location_id) DO UPDATE SET qty=EXCLUDED.qty, updated_at=EXCLUDED.updated_at`,
		slot.ItemID, slot.LocationID, slot.Qty, slot.OpeningQty, slot.UpdatedAt)
	return db.MapError("upsert slot", err)
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) error {
	_, err := r.q.Exec(ctx, `INSERT INTO stock_movements (id, item_id, location_id, direction, qty, prev_qty, new_qty, ref_type, ref_id, remark, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		m.ID, m.ItemID, m.LocationID, string(m.Direction), m.Qty, m.PrevQty, m.NewQty, string(m.RefType), m.RefID, m.Remark, m.ActorID, m.CreatedAt)
	return db.MapError("insert movement", err)
}

// limitArg maps a non-positive limit to NULL, which Postgres reads as LIMIT ALL.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
