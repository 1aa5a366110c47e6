package stock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

type memoryTx struct {
	items     map[string]Item
	slots     map[string]Slot
	movements []Movement
}

func newMemoryTx(itemIDs ...string) *memoryTx {
	tx := &memoryTx{items: make(map[string]Item), slots: make(map[string]Slot)}
	for _, id := range itemIDs {
		tx.items[id] = Item{ID: id}
	}
	return tx
}

func slotKey(itemID, locationID string) string {
	return itemID + "@" + locationID
}

func (tx *memoryTx) seed(itemID, locationID string, qty int64) {
	q := decimal.NewFromInt(qty)
	tx.slots[slotKey(itemID, locationID)] = Slot{ItemID: itemID, LocationID: locationID, Qty: q, OpeningQty: q}
}

func (tx *memoryTx) GetItem(_ context.Context, itemID string) (Item, error) {
	item, ok := tx.items[itemID]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (tx *memoryTx) GetSlotForUpdate(_ context.Context, itemID, locationID string) (Slot, error) {
	slot, ok := tx.slots[slotKey(itemID, locationID)]
	if !ok {
		return Slot{ItemID: itemID, LocationID: locationID}, ErrSlotNotFound
	}
	return slot, nil
}

func (tx *memoryTx) UpsertSlot(_ context.Context, slot Slot) error {
	tx.slots[slotKey(slot.ItemID, slot.LocationID)] = slot
	return nil
}

func (tx *memoryTx) InsertMovement(_ context.Context, movement Movement) error {
	tx.movements = append(tx.movements, movement)
	return nil
}

func fixedMutator() *Mutator {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return NewMutator().WithClock(func() time.Time { return at })
}

func TestApplyDeltaOutboundRecordsMovement(t *testing.T) {
	tx := newMemoryTx("I1")
	tx.seed("I1", "L1", 100)

	applied, err := fixedMutator().ApplyDelta(context.Background(), tx, DeltaInput{
		ItemID: "I1", LocationID: "L1", Delta: decimal.NewFromInt(-10),
		Direction: DirectionOut, RefType: RefPurchaseReturn, RefID: "PR-1",
	})
	require.NoError(t, err)
	require.True(t, applied.NewQty.Equal(decimal.NewFromInt(90)))
	require.Len(t, tx.movements, 1)

	mv := tx.movements[0]
	require.Equal(t, DirectionOut, mv.Direction)
	require.True(t, mv.Qty.Equal(decimal.NewFromInt(10)))
	require.True(t, mv.PrevQty.Equal(decimal.NewFromInt(100)))
	require.True(t, mv.NewQty.Equal(decimal.NewFromInt(90)))
	require.Equal(t, "PR-1", mv.RefID)
	require.Equal(t, applied.MovementID, mv.ID)
}

func TestApplyDeltaRejectsNegativeUnlessAllowed(t *testing.T) {
	tx := newMemoryTx("I1")
	tx.seed("I1", "L1", 5)
	m := fixedMutator()

	_, err := m.ApplyDelta(context.Background(), tx, DeltaInput{ItemID: "I1", LocationID: "L1", Delta: decimal.NewFromInt(-6), Direction: DirectionOut})
	var negErr *NegativeStockError
	require.ErrorAs(t, err, &negErr)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Empty(t, tx.movements)
	require.True(t, tx.slots[slotKey("I1", "L1")].Qty.Equal(decimal.NewFromInt(5)))

	applied, err := m.ApplyDelta(context.Background(), tx, DeltaInput{ItemID: "I1", LocationID: "L1", Delta: decimal.NewFromInt(-6), Direction: DirectionOut, AllowNegative: true})
	require.NoError(t, err)
	require.True(t, applied.NewQty.Equal(decimal.NewFromInt(-1)))
}

func TestApplyDeltaMissingSlotStartsAtZero(t *testing.T) {
	tx := newMemoryTx("I1")

	applied, err := fixedMutator().ApplyDelta(context.Background(), tx, DeltaInput{ItemID: "I1", LocationID: "L2", Delta: decimal.NewFromInt(7)})
	require.NoError(t, err)
	require.True(t, applied.PrevQty.IsZero())
	require.True(t, applied.NewQty.Equal(decimal.NewFromInt(7)))
	require.Equal(t, DirectionIn, tx.movements[0].Direction)
}

func TestApplyDeltaMissingItem(t *testing.T) {
	tx := newMemoryTx()

	_, err := fixedMutator().ApplyDelta(context.Background(), tx, DeltaInput{ItemID: "ghost", LocationID: "L1", Delta: decimal.NewFromInt(1)})
	var nf *ItemNotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "ghost", nf.ItemID)
	require.True(t, errors.Is(err, shared.ErrNotFound))
	require.Empty(t, tx.movements)
}

func TestApplyDeltaDirectionMustMatchSign(t *testing.T) {
	tx := newMemoryTx("I1")
	_, err := fixedMutator().ApplyDelta(context.Background(), tx, DeltaInput{ItemID: "I1", LocationID: "L1", Delta: decimal.NewFromInt(-1), Direction: DirectionIn})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = fixedMutator().ApplyDelta(context.Background(), tx, DeltaInput{ItemID: "I1", LocationID: "L1", Delta: decimal.Zero, Direction: DirectionOut})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSetQuantityRecordsSignedDiff(t *testing.T) {
	tx := newMemoryTx("I1")
	tx.seed("I1", "L1", 90)

	applied, err := fixedMutator().SetQuantity(context.Background(), tx, SetInput{ItemID: "I1", LocationID: "L1", Qty: decimal.NewFromInt(80), RefID: "AUD-1"})
	require.NoError(t, err)
	require.True(t, applied.Diff.Equal(decimal.NewFromInt(-10)))
	require.True(t, tx.slots[slotKey("I1", "L1")].Qty.Equal(decimal.NewFromInt(80)))

	mv := tx.movements[0]
	require.Equal(t, DirectionAudit, mv.Direction)
	require.Equal(t, RefAudit, mv.RefType)
	require.True(t, mv.Qty.Equal(decimal.NewFromInt(-10)))
	require.True(t, mv.Delta().Equal(decimal.NewFromInt(-10)))
}

func TestSetQuantityRejectsNegative(t *testing.T) {
	tx := newMemoryTx("I1")
	_, err := fixedMutator().SetQuantity(context.Background(), tx, SetInput{ItemID: "I1", LocationID: "L1", Qty: decimal.NewFromInt(-1)})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSlotMatchesOpeningPlusMovements(t *testing.T) {
	tx := newMemoryTx("I1")
	tx.seed("I1", "L1", 50)
	m := fixedMutator()
	ctx := context.Background()

	steps := []DeltaInput{
		{ItemID: "I1", LocationID: "L1", Delta: decimal.NewFromInt(20)},
		{ItemID: "I1", LocationID: "L1", Delta: decimal.NewFromInt(-35)},
		{ItemID: "I1", LocationID: "L1", Delta: decimal.RequireFromString("2.5")},
	}
	for _, step := range steps {
		_, err := m.ApplyDelta(ctx, tx, step)
		require.NoError(t, err)
	}
	_, err := m.SetQuantity(ctx, tx, SetInput{ItemID: "I1", LocationID: "L1", Qty: decimal.NewFromInt(30)})
	require.NoError(t, err)

	slot := tx.slots[slotKey("I1", "L1")]
	sum := slot.OpeningQty
	for _, mv := range tx.movements {
		sum = sum.Add(mv.Delta())
	}
	require.True(t, slot.Qty.Equal(sum), "slot %s != opening+movements %s", slot.Qty, sum)
}
