package stock

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort abstracts the read side used by Service.
type RepositoryPort interface {
	GetItem(ctx context.Context, itemID string) (Item, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// KeyClaimer records an idempotency key inside the running transaction. It reports
// shared.ErrIdempotencyConflict when the key is already present; a rollback releases the claim.
type KeyClaimer interface {
	CheckAndInsert(ctx context.Context, key, module string) error
}

// TxRunner opens a stock-only transaction.
type TxRunner interface {
	WithStockTx(ctx context.Context, fn func(context.Context, TxRepository, KeyClaimer) error) error
}

// Service answers stock queries.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// GetItem returns the item with all slots.
func (s *Service) GetItem(ctx context.Context, itemID string) (Item, error) {
	if itemID == "" {
		return Item{}, shared.NewValidationError("item_id", "required")
	}
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return Item{}, &ItemNotFoundError{ItemID: itemID}
		}
		return Item{}, err
	}
	return item, nil
}

// GetItemQuantity returns the quantity at one location, or the total across locations when
// locationID is empty. A location without a slot holds zero.
func (s *Service) GetItemQuantity(ctx context.Context, itemID, locationID string) (decimal.Decimal, error) {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, slot := range item.Slots {
		if locationID == "" || slot.LocationID == locationID {
			total = total.Add(slot.Qty)
		}
	}
	return total, nil
}

// GetMovementLog lists movements for an item inside the range, oldest first.
func (s *Service) GetMovementLog(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.ItemID == "" {
		return nil, shared.NewValidationError("item_id", "required")
	}
	if err := filter.Range.Validate(); err != nil {
		return nil, shared.NewValidationError("range", err.Error())
	}
	if _, err := s.GetItem(ctx, filter.ItemID); err != nil {
		return nil, err
	}
	movements, err := s.repo.ListMovements(ctx, filter)
	if err != nil {
		s.logger.Error("list movements", slog.String("item_id", filter.ItemID), slog.Any("error", err))
		return nil, err
	}
	return movements, nil
}
