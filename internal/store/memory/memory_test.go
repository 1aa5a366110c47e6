package memory_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/stock"
	"github.com/odyssey-erp/backoffice/internal/store/memory"
)

func TestListMovementsZeroLimitReturnsAll(t *testing.T) {
	store := memory.New()
	store.AddItem("I1", "Rice")
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	const total = 600
	err := store.WithStockTx(ctx, func(ctx context.Context, tx stock.TxRepository, _ stock.KeyClaimer) error {
		for i := 0; i < total; i++ {
			if err := tx.InsertMovement(ctx, stock.Movement{
				ID:         fmt.Sprintf("m-%d", i),
				ItemID:     "I1",
				LocationID: "L1",
				Direction:  stock.DirectionIn,
				Qty:        decimal.NewFromInt(1),
				RefType:    stock.RefPurchase,
				RefID:      "P-1",
				CreatedAt:  at.Add(time.Duration(i) * time.Second),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	all, err := store.ListMovements(ctx, stock.MovementFilter{ItemID: "I1"})
	require.NoError(t, err)
	require.Len(t, all, total)

	capped, err := store.ListMovements(ctx, stock.MovementFilter{ItemID: "I1", Limit: 25})
	require.NoError(t, err)
	require.Len(t, capped, 25)
	require.Equal(t, "m-0", capped[0].ID)
}

func TestKeyClaimRollsBackWithTransaction(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	err := store.WithStockTx(ctx, func(ctx context.Context, _ stock.TxRepository, keys stock.KeyClaimer) error {
		require.NoError(t, keys.CheckAndInsert(ctx, "stockimport:b:2", "stockimport.row"))
		return shared.NewValidationError("qty", "rejected")
	})
	require.Error(t, err)
	require.Zero(t, store.IdempotencyKeys())

	claim := func(ctx context.Context, _ stock.TxRepository, keys stock.KeyClaimer) error {
		return keys.CheckAndInsert(ctx, "stockimport:b:2", "stockimport.row")
	}
	require.NoError(t, store.WithStockTx(ctx, claim))
	require.ErrorIs(t, store.WithStockTx(ctx, claim), shared.ErrIdempotencyConflict)
	require.Equal(t, 1, store.IdempotencyKeys())
}
