package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
)

// Repository persists ledger data in PostgreSQL.
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

// WithLedgerTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithLedgerTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// GetCustomer loads a customer without locking.
func (r *Repository) GetCustomer(ctx context.Context, customerID string) (Customer, error) {
	if r == nil {
		return Customer{}, errors.New("ledger repository not initialised")
	}
	return scanCustomer(r.pool.QueryRow(ctx, `SELECT id, name, opening_balance, balance, updated_at FROM customers WHERE id=$1`, customerID))
}

// ListCustomerIDs returns every customer id in a stable order.
func (r *Repository) ListCustomerIDs(ctx context.Context) ([]string, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id FROM customers ORDER BY id`)
	if err != nil {
		return nil, db.MapError("list customers", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, db.MapError("list customers", err)
	}
	return ids, nil
}

// ListEntries returns the customer's entries inside the range ordered by date.
func (r *Repository) ListEntries(ctx context.Context, customerID string, from, to time.Time) ([]Entry, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, customer_id, entry_date, description, ref_type, ref_id, debit, credit, balance, created_at
FROM ledger_entries
WHERE customer_id=$1 AND entry_date BETWEEN COALESCE($2, '-infinity'::timestamptz) AND COALESCE($3, 'infinity'::timestamptz)
ORDER BY entry_date ASC, seq ASC`, customerID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, db.MapError("list entries", err)
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var refType string
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.Date, &e.Description, &refType, &e.RefID, &e.Debit, &e.Credit, &e.Balance, &e.CreatedAt); err != nil {
			return nil, db.MapError("scan entry", err)
		}
		e.RefType = RefType(refType)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, db.MapError("list entries", err)
	}
	return entries, nil
}

// SumBefore totals the customer's entries dated strictly before the cutoff.
func (r *Repository) SumBefore(ctx context.Context, customerID string, before time.Time) (decimal.Decimal, decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, decimal.Zero, errors.New("ledger repository not initialised")
	}
	var debit, credit decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(debit), 0), COALESCE(SUM(credit), 0)
FROM ledger_entries WHERE customer_id=$1 AND entry_date < $2`, customerID, before).Scan(&debit, &credit)
	if err != nil {
		return decimal.Zero, decimal.Zero, db.MapError("sum entries", err)
	}
	return debit, credit, nil
}

func (r *txRepository) GetCustomerForUpdate(ctx context.Context, customerID string) (Customer, error) {
	return scanCustomer(r.q.QueryRow(ctx, `SELECT id, name, opening_balance, balance, updated_at FROM customers WHERE id=$1 FOR UPDATE`, customerID))
}

func (r *txRepository) UpdateCustomerBalance(ctx context.Context, customerID string, balance decimal.Decimal, at time.Time) error {
	tag, err := r.q.Exec(ctx, `UPDATE customers SET balance=$2, updated_at=$3 WHERE id=$1`, customerID, balance, at)
	if err != nil {
		return db.MapError("update balance", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

func (r *txRepository) GetEntryByRef(ctx context.Context, refID string) (Entry, error) {
	var e Entry
	var refType string
	err := r.q.QueryRow(ctx, `SELECT id, customer_id, entry_date, description, ref_type, ref_id, debit, credit, balance, created_at
FROM ledger_entries WHERE ref_id=$1 FOR UPDATE`, refID).
		Scan(&e.ID, &e.CustomerID, &e.Date, &e.Description, &refType, &e.RefID, &e.Debit, &e.Credit, &e.Balance, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, db.MapError("get entry", err)
	}
	e.RefType = RefType(refType)
	return e, nil
}

func (r *txRepository) InsertEntry(ctx context.Context, e Entry) error {
	_, err := r.q.Exec(ctx, `INSERT INTO ledger_entries (id, customer_id, entry_date, description, ref_type, ref_id, debit, credit, balance, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.CustomerID, e.Date, e.Description, string(e.RefType), e.RefID, e.Debit, e.Credit, e.Balance, e.CreatedAt)
	return db.MapError("insert entry", err)
}

func (r *txRepository) DeleteEntry(ctx context.Context, entryID string) error {
	_, err := r.q.Exec(ctx, `DELETE FROM ledger_entries WHERE id=$1`, entryID)
	return db.MapError("delete entry", err)
}

func (r *txRepository) SumEntries(ctx context.Context, customerID string) (decimal.Decimal, decimal.Decimal, error) {
	var debit, credit decimal.Decimal
	err := r.q.QueryRow(ctx, `SELECT COALESCE(SUM(debit), 0), COALESCE(SUM(credit), 0) FROM ledger_entries WHERE customer_id=$1`, customerID).
		Scan(&debit, &credit)
	if err != nil {
		return decimal.Zero, decimal.Zero, db.MapError("sum entries", err)
	}
	return debit, credit, nil
}

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	if err := row.Scan(&c.ID, &c.Name, &c.OpeningBalance, &c.Balance, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrCustomerNotFound
		}
		return Customer{}, db.MapError("get customer", err)
	}
	return c, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
