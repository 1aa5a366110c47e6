package posting

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/stock"
)

// Queries groups the read operations offered next to the engine commands.
type Queries struct {
	stock  *stock.Service
	ledger *ledger.Service
}

// NewQueries builds Queries.
func NewQueries(stockSvc *stock.Service, ledgerSvc *ledger.Service) *Queries {
	return &Queries{stock: stockSvc, ledger: ledgerSvc}
}

// GetItemQuantity returns the quantity of an item at a location, or across all locations.
func (q *Queries) GetItemQuantity(ctx context.Context, itemID, locationID string) (decimal.Decimal, error) {
	return q.stock.GetItemQuantity(ctx, itemID, locationID)
}

// GetMovementLog returns an item's movements inside the range, oldest first.
func (q *Queries) GetMovementLog(ctx context.Context, itemID string, rng shared.DateRange) ([]stock.Movement, error) {
	return q.stock.GetMovementLog(ctx, stock.MovementFilter{ItemID: itemID, Range: rng})
}

// GetLedger returns the customer's statement for the range.
func (q *Queries) GetLedger(ctx context.Context, customerID string, rng shared.DateRange) (ledger.Statement, error) {
	return q.ledger.GetLedger(ctx, customerID, rng)
}

// GetCustomerBalance returns the customer's cached balance.
func (q *Queries) GetCustomerBalance(ctx context.Context, customerID string) (decimal.Decimal, error) {
	return q.ledger.GetCustomerBalance(ctx, customerID)
}
