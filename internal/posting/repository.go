package posting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/stock"
)

// Repository persists documents in PostgreSQL and hands out transactions spanning documents,
// stock and ledger tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type (
	stockTx  = stock.TxRepository
	ledgerTx = ledger.TxRepository
)

type txRepository struct {
	stockTx
	ledgerTx
	q db.Querier
}

func newTxRepository(q db.Querier) *txRepository {
	return &txRepository{
		stockTx:  stock.NewTxRepository(q),
		ledgerTx: ledger.NewTxRepository(q),
		q:        q,
	}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("posting repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, newTxRepository(tx))
	})
}

// WithStockTx executes a stock-only callback, used by bulk import.
func (r *Repository) WithStockTx(ctx context.Context, fn func(context.Context, stock.TxRepository, stock.KeyClaimer) error) error {
	if r == nil {
		return errors.New("posting repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, stock.NewTxRepository(tx), shared.NewIdempotencyStore(tx))
	})
}

// GetDocument loads a document without locking.
func (r *Repository) GetDocument(ctx context.Context, id string) (Document, error) {
	if r == nil {
		return Document{}, errors.New("posting repository not initialised")
	}
	return scanDocument(r.pool.QueryRow(ctx, selectDocument+` WHERE id=$1`, id))
}

// QueryDocuments lists every document ordered by id through q, which may be an open transaction.
func QueryDocuments(ctx context.Context, q db.Querier) ([]Document, error) {
	rows, err := q.Query(ctx, selectDocument+` ORDER BY id`)
	if err != nil {
		return nil, db.MapError("list documents", err)
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, db.MapError("list documents", err)
	}
	return docs, nil
}

const selectDocument = `SELECT id, doc_type, status, number, COALESCE(customer_id, ''), location_id, net_total, paid_amount,
pay_mode, posting_seq, doc_date, actor_id, version, lines, created_at, updated_at FROM posting_documents`

func (r *txRepository) GetDocumentForUpdate(ctx context.Context, id string) (Document, error) {
	return scanDocument(r.q.QueryRow(ctx, selectDocument+` WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) InsertDocument(ctx context.Context, doc Document) error {
	lines, err := json.Marshal(doc.Lines)
	if err != nil {
		return fmt.Errorf("posting: encode lines: %w", err)
	}
	_, err = r.q.Exec(ctx, `INSERT INTO posting_documents (id, doc_type, status, number, customer_id, location_id, net_total, paid_amount,
pay_mode, posting_seq, doc_date, actor_id, version, lines, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		doc.ID, string(doc.Type), string(doc.Status), doc.Number, nullString(doc.CustomerID), doc.LocationID, doc.NetTotal, doc.PaidAmount,
		string(doc.PayMode), doc.PostingSeq, doc.Date, doc.ActorID, doc.Version, lines, doc.CreatedAt, doc.UpdatedAt)
	return db.MapError("insert document", err)
}

func (r *txRepository) UpdateDocument(ctx context.Context, doc Document) error {
	lines, err := json.Marshal(doc.Lines)
	if err != nil {
		return fmt.Errorf("posting: encode lines: %w", err)
	}
	tag, err := r.q.Exec(ctx, `UPDATE posting_documents SET status=$2, number=$3, customer_id=$4, location_id=$5, net_total=$6,
paid_amount=$7, pay_mode=$8, posting_seq=$9, doc_date=$10, actor_id=$11, version=$12, lines=$13, updated_at=$14
WHERE id=$1`,
		doc.ID, string(doc.Status), doc.Number, nullString(doc.CustomerID), doc.LocationID, doc.NetTotal,
		doc.PaidAmount, string(doc.PayMode), doc.PostingSeq, doc.Date, doc.ActorID, doc.Version, lines, doc.UpdatedAt)
	if err != nil {
		return db.MapError("update document", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (r *txRepository) DeleteDocument(ctx context.Context, id string) error {
	_, err := r.q.Exec(ctx, `DELETE FROM posting_documents WHERE id=$1`, id)
	return db.MapError("delete document", err)
}

func (r *txRepository) NextPostingSeq(ctx context.Context, docType DocumentType) (int64, error) {
	var seq int64
	err := r.q.QueryRow(ctx, `INSERT INTO posting_sequences (doc_type, last_seq) VALUES ($1, 1)
ON CONFLICT (doc_type) DO UPDATE SET last_seq = posting_sequences.last_seq + 1
RETURNING last_seq`, string(docType)).Scan(&seq)
	if err != nil {
		return 0, db.MapError("next posting seq", err)
	}
	return seq, nil
}

func scanDocument(row pgx.Row) (Document, error) {
	var doc Document
	var docType, status, payMode string
	var lines []byte
	var date, createdAt, updatedAt time.Time
	err := row.Scan(&doc.ID, &docType, &status, &doc.Number, &doc.CustomerID, &doc.LocationID, &doc.NetTotal, &doc.PaidAmount,
		&payMode, &doc.PostingSeq, &date, &doc.ActorID, &doc.Version, &lines, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrDocumentNotFound
		}
		return Document{}, db.MapError("get document", err)
	}
	if err := json.Unmarshal(lines, &doc.Lines); err != nil {
		return Document{}, fmt.Errorf("posting: decode lines of %s: %w", doc.ID, err)
	}
	doc.Type = DocumentType(docType)
	doc.Status = Status(status)
	doc.PayMode = PayMode(payMode)
	doc.Date = date.UTC()
	doc.CreatedAt = createdAt.UTC()
	doc.UpdatedAt = updatedAt.UTC()
	return doc, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
