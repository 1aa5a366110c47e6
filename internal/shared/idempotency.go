package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of pgxpool.Pool and pgx.Tx used for single statements.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyStore persists processed keys in idempotency_keys.
type IdempotencyStore struct {
	db  Execer
	now func() time.Time
}

// NewIdempotencyStore constructs the store. db may be a pool or an open transaction.
func NewIdempotencyStore(db Execer) *IdempotencyStore {
	return &IdempotencyStore{db: db, now: time.Now}
}

// CheckAndInsert claims key for module. A key that already exists yields ErrIdempotencyConflict
// without aborting an enclosing transaction.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil || s.db == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" || module == "" {
		return NewValidationError("idempotency", "key and module required")
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3) ON CONFLICT (key) DO NOTHING`,
		key, module, s.now())
	if err != nil {
		return &PersistenceError{Op: "idempotency insert", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// Delete releases a key so that failed processing can be retried.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil || key == "" {
		return nil
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key); err != nil {
		return &PersistenceError{Op: "idempotency delete", Err: err}
	}
	return nil
}
