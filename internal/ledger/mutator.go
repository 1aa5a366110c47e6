package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// TxRepository exposes the transactional operations the Mutator needs.
type TxRepository interface {
	GetCustomerForUpdate(ctx context.Context, customerID string) (Customer, error)
	UpdateCustomerBalance(ctx context.Context, customerID string, balance decimal.Decimal, at time.Time) error
	GetEntryByRef(ctx context.Context, refID string) (Entry, error)
	InsertEntry(ctx context.Context, entry Entry) error
	DeleteEntry(ctx context.Context, entryID string) error
	SumEntries(ctx context.Context, customerID string) (debit, credit decimal.Decimal, err error)
}

// Mutator is the only writer of ledger entries and customer balances.
type Mutator struct {
	now   func() time.Time
	newID func() string
}

// NewMutator builds Mutator.
func NewMutator() *Mutator {
	return &Mutator{
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}
}

// WithClock overrides the timestamp source, used by tests.
func (m *Mutator) WithClock(now func() time.Time) *Mutator {
	m.now = now
	return m
}

// Upsert writes the entry for input.RefID, replacing any existing one.
func (m *Mutator) Upsert(ctx context.Context, tx TxRepository, input UpsertInput) (Entry, error) {
	if input.CustomerID == "" {
		return Entry{}, shared.NewValidationError("customer_id", "required")
	}
	if input.RefID == "" {
		return Entry{}, shared.NewValidationError("ref_id", "required")
	}
	if input.Debit.IsNegative() || input.Credit.IsNegative() {
		return Entry{}, shared.NewValidationError("amount", "debit and credit cannot be negative")
	}

	if _, err := m.RemoveByReference(ctx, tx, input.RefID, nil); err != nil {
		return Entry{}, err
	}

	customer, err := m.lockCustomer(ctx, tx, input.CustomerID)
	if err != nil {
		return Entry{}, err
	}
	now := m.now()
	date := input.Date
	if date.IsZero() {
		date = now
	}
	balance := customer.Balance.Add(input.Debit).Sub(input.Credit)
	entry := Entry{
		ID:          m.newID(),
		CustomerID:  input.CustomerID,
		Date:        date,
		Description: input.Description,
		RefType:     input.RefType,
		RefID:       input.RefID,
		Debit:       input.Debit,
		Credit:      input.Credit,
		Balance:     balance,
		CreatedAt:   now,
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return Entry{}, err
	}
	if err := tx.UpdateCustomerBalance(ctx, input.CustomerID, balance, now); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// RemoveByReference deletes the entry for refID and reverses its effect on the customer balance.
// Without a stored entry the fallback amounts are reversed instead, leaving entries untouched.
// Without either, nothing happens.
func (m *Mutator) RemoveByReference(ctx context.Context, tx TxRepository, refID string, fallback *Fallback) (Removal, error) {
	if refID == "" {
		return Removal{}, shared.NewValidationError("ref_id", "required")
	}
	entry, err := tx.GetEntryByRef(ctx, refID)
	switch {
	case err == nil:
		if err := m.adjust(ctx, tx, entry.CustomerID, entry.Net().Neg()); err != nil {
			return Removal{}, err
		}
		if err := tx.DeleteEntry(ctx, entry.ID); err != nil {
			return Removal{}, err
		}
		return Removal{Removed: true, CustomerID: entry.CustomerID, Debit: entry.Debit, Credit: entry.Credit}, nil
	case !errors.Is(err, ErrEntryNotFound):
		return Removal{}, err
	}

	if fallback == nil || fallback.CustomerID == "" {
		return Removal{}, nil
	}
	if err := m.adjust(ctx, tx, fallback.CustomerID, fallback.Credit.Sub(fallback.Debit)); err != nil {
		return Removal{}, err
	}
	return Removal{FallbackApplied: true, CustomerID: fallback.CustomerID, Debit: fallback.Debit, Credit: fallback.Credit}, nil
}

// Recompute sets the cached balance to the opening anchor plus all entries.
func (m *Mutator) Recompute(ctx context.Context, tx TxRepository, customerID string) (ResyncResult, error) {
	customer, err := m.lockCustomer(ctx, tx, customerID)
	if err != nil {
		return ResyncResult{}, err
	}
	debit, credit, err := tx.SumEntries(ctx, customerID)
	if err != nil {
		return ResyncResult{}, err
	}
	expected := customer.OpeningBalance.Add(debit).Sub(credit)
	result := ResyncResult{CustomerID: customerID, Before: customer.Balance, After: expected, Drift: expected.Sub(customer.Balance)}
	if result.Drift.IsZero() {
		return result, nil
	}
	if err := tx.UpdateCustomerBalance(ctx, customerID, expected, m.now()); err != nil {
		return ResyncResult{}, err
	}
	return result, nil
}

func (m *Mutator) adjust(ctx context.Context, tx TxRepository, customerID string, delta decimal.Decimal) error {
	customer, err := m.lockCustomer(ctx, tx, customerID)
	if err != nil {
		return err
	}
	return tx.UpdateCustomerBalance(ctx, customerID, customer.Balance.Add(delta), m.now())
}

func (m *Mutator) lockCustomer(ctx context.Context, tx TxRepository, customerID string) (Customer, error) {
	customer, err := tx.GetCustomerForUpdate(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			return Customer{}, customerNotFound(customerID)
		}
		return Customer{}, err
	}
	return customer, nil
}
