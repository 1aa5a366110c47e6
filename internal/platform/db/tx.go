package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// PostgreSQL error codes the engine reacts to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return MapError("begin tx", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return MapError("tx", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return MapError("commit tx", err)
	}

	return nil
}

// WithSnapshot runs fn in a read-only repeatable-read transaction so every query inside it sees
// the same snapshot.
func WithSnapshot(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return MapError("begin snapshot", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return MapError("snapshot", err)
	}
	return nil
}

// MapError translates driver errors into the shared error taxonomy.
// Errors that are already domain errors or pgx.ErrNoRows pass through untouched.
func MapError(op string, err error) error {
	if err == nil || errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return &shared.ConcurrencyConflictError{Resource: op, Err: err}
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, shared.ErrDuplicateDocument, pgErr.ConstraintName)
		}
		return &shared.PersistenceError{Op: op, Err: err}
	}
	if isDomainError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.SafeToRetry(err) {
		return &shared.PersistenceError{Op: op, Err: err}
	}
	return err
}

func isDomainError(err error) bool {
	return errors.Is(err, shared.ErrValidation) ||
		errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrInsufficientStock) ||
		errors.Is(err, shared.ErrConcurrencyConflict) ||
		errors.Is(err, shared.ErrPersistence) ||
		errors.Is(err, shared.ErrUnsupportedTransition) ||
		errors.Is(err, shared.ErrDuplicateDocument)
}
