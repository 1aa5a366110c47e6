package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for Service.
type RepositoryPort interface {
	WithLedgerTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCustomer(ctx context.Context, customerID string) (Customer, error)
	ListCustomerIDs(ctx context.Context) ([]string, error)
	ListEntries(ctx context.Context, customerID string, from, to time.Time) ([]Entry, error)
	SumBefore(ctx context.Context, customerID string, before time.Time) (decimal.Decimal, decimal.Decimal, error)
}

// Service answers ledger queries and repairs cached balances.
type Service struct {
	repo    RepositoryPort
	mutator *Mutator
	locks   shared.Locker
	logger  *slog.Logger
}

// NewService builds Service. locks may be nil when no engine runs concurrently.
func NewService(repo RepositoryPort, locks shared.Locker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, mutator: NewMutator(), locks: locks, logger: logger}
}

// GetCustomerBalance returns the cached balance.
func (s *Service) GetCustomerBalance(ctx context.Context, customerID string) (decimal.Decimal, error) {
	customer, err := s.getCustomer(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	return customer.Balance, nil
}

// GetLedger returns entries in range with an opening balance made of the customer's anchor plus
// every entry dated strictly before the range start.
func (s *Service) GetLedger(ctx context.Context, customerID string, rng shared.DateRange) (Statement, error) {
	if err := rng.Validate(); err != nil {
		return Statement{}, shared.NewValidationError("range", err.Error())
	}
	customer, err := s.getCustomer(ctx, customerID)
	if err != nil {
		return Statement{}, err
	}
	opening := customer.OpeningBalance
	if !rng.From.IsZero() {
		debit, credit, err := s.repo.SumBefore(ctx, customerID, rng.From)
		if err != nil {
			return Statement{}, err
		}
		opening = opening.Add(debit).Sub(credit)
	}
	entries, err := s.repo.ListEntries(ctx, customerID, rng.From, rng.To)
	if err != nil {
		s.logger.Error("list ledger entries", slog.String("customer_id", customerID), slog.Any("error", err))
		return Statement{}, err
	}
	stmt := Statement{
		Customer:    customer,
		Range:       rng,
		Opening:     opening,
		Lines:       make([]StatementLine, 0, len(entries)),
		TotalDebit:  decimal.Zero,
		TotalCredit: decimal.Zero,
	}
	running := opening
	for _, e := range entries {
		running = running.Add(e.Net())
		stmt.TotalDebit = stmt.TotalDebit.Add(e.Debit)
		stmt.TotalCredit = stmt.TotalCredit.Add(e.Credit)
		stmt.Lines = append(stmt.Lines, StatementLine{Entry: e, Running: running})
	}
	stmt.Closing = running
	return stmt, nil
}

// Resync recomputes the cached balance from the opening anchor and stored entries.
func (s *Service) Resync(ctx context.Context, customerID string) (ResyncResult, error) {
	if customerID == "" {
		return ResyncResult{}, shared.NewValidationError("customer_id", "required")
	}
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, shared.CustomerLockKey(customerID))
		if err != nil {
			return ResyncResult{}, err
		}
		defer unlock()
	}
	var result ResyncResult
	err := s.repo.WithLedgerTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.mutator.Recompute(ctx, tx, customerID)
		return err
	})
	if err != nil {
		return ResyncResult{}, err
	}
	if !result.Drift.IsZero() {
		s.logger.Warn("ledger balance drift corrected",
			slog.String("customer_id", customerID),
			slog.String("before", result.Before.String()),
			slog.String("after", result.After.String()))
	}
	return result, nil
}

// ResyncAll resyncs every customer and returns only the ones that drifted.
func (s *Service) ResyncAll(ctx context.Context) ([]ResyncResult, error) {
	ids, err := s.repo.ListCustomerIDs(ctx)
	if err != nil {
		return nil, err
	}
	var drifted []ResyncResult
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return drifted, err
		}
		result, err := s.Resync(ctx, id)
		if err != nil {
			return drifted, err
		}
		if !result.Drift.IsZero() {
			drifted = append(drifted, result)
		}
	}
	return drifted, nil
}

func (s *Service) getCustomer(ctx context.Context, customerID string) (Customer, error) {
	if customerID == "" {
		return Customer{}, shared.NewValidationError("customer_id", "required")
	}
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			return Customer{}, customerNotFound(customerID)
		}
		return Customer{}, err
	}
	return customer, nil
}
