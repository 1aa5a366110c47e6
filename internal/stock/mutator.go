package stock

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
	GetItem(ctx context.Context, itemID string) (Item, error)
	GetSlotForUpdate(ctx context.Context, itemID, locationID string) (Slot, error)
	UpsertSlot(ctx context.Context, slot Slot) error
	InsertMovement(ctx context.Context, movement Movement) error
}

// Mutator is the only writer of slot quantities. Every call runs inside the caller's transaction
// and appends exactly one movement.
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

// Current locks the slot and returns its quantity. A missing slot reads as zero.
func (m *Mutator) Current(ctx context.Context, tx TxRepository, itemID, locationID string) (decimal.Decimal, error) {
	slot, err := m.lockSlot(ctx, tx, itemID, locationID)
	if err != nil {
		return decimal.Zero, err
	}
	return slot.Qty, nil
}

// ApplyDelta adds a signed delta to a slot.
func (m *Mutator) ApplyDelta(ctx context.Context, tx TxRepository, input DeltaInput) (Applied, error) {
	if err := validateTarget(input.ItemID, input.LocationID); err != nil {
		return Applied{}, err
	}
	direction := input.Direction
	if direction == "" {
		direction = DirectionIn
		if input.Delta.IsNegative() {
			direction = DirectionOut
		}
	}
	switch direction {
	case DirectionIn:
		if !input.Delta.IsPositive() {
			return Applied{}, shared.NewValidationError("delta", "inbound movement requires a positive quantity")
		}
	case DirectionOut:
		if !input.Delta.IsNegative() {
			return Applied{}, shared.NewValidationError("delta", "outbound movement requires a negative delta")
		}
	case DirectionAudit:
	default:
		return Applied{}, shared.NewValidationError("direction", "unknown direction "+string(direction))
	}

	slot, err := m.lockSlot(ctx, tx, input.ItemID, input.LocationID)
	if err != nil {
		return Applied{}, err
	}
	next := slot.Qty.Add(input.Delta)
	if next.IsNegative() && !input.AllowNegative {
		return Applied{}, &NegativeStockError{ItemID: input.ItemID, LocationID: input.LocationID, Current: slot.Qty, Delta: input.Delta}
	}

	qty := input.Delta.Abs()
	if direction == DirectionAudit {
		qty = input.Delta
	}
	return m.write(ctx, tx, slot, next, Movement{
		Direction: direction,
		Qty:       qty,
		RefType:   input.RefType,
		RefID:     input.RefID,
		Remark:    input.Remark,
		ActorID:   input.ActorID,
	})
}

// SetQuantity overwrites a slot with an absolute quantity and records the signed diff.
func (m *Mutator) SetQuantity(ctx context.Context, tx TxRepository, input SetInput) (Applied, error) {
	if err := validateTarget(input.ItemID, input.LocationID); err != nil {
		return Applied{}, err
	}
	if input.Qty.IsNegative() {
		return Applied{}, shared.NewValidationError("qty", "physical quantity cannot be negative")
	}
	slot, err := m.lockSlot(ctx, tx, input.ItemID, input.LocationID)
	if err != nil {
		return Applied{}, err
	}
	refType := input.RefType
	if refType == "" {
		refType = RefAudit
	}
	return m.write(ctx, tx, slot, input.Qty, Movement{
		Direction: DirectionAudit,
		Qty:       input.Qty.Sub(slot.Qty),
		RefType:   refType,
		RefID:     input.RefID,
		Remark:    input.Remark,
		ActorID:   input.ActorID,
	})
}

func (m *Mutator) lockSlot(ctx context.Context, tx TxRepository, itemID, locationID string) (Slot, error) {
	if _, err := tx.GetItem(ctx, itemID); err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return Slot{}, &ItemNotFoundError{ItemID: itemID}
		}
		return Slot{}, err
	}
	slot, err := tx.GetSlotForUpdate(ctx, itemID, locationID)
	if err != nil {
		if !errors.Is(err, ErrSlotNotFound) {
			return Slot{}, err
		}
		slot = Slot{ItemID: itemID, LocationID: locationID, Qty: decimal.Zero, OpeningQty: decimal.Zero}
	}
	return slot, nil
}

func (m *Mutator) write(ctx context.Context, tx TxRepository, slot Slot, next decimal.Decimal, movement Movement) (Applied, error) {
	now := m.now()
	prev := slot.Qty
	slot.Qty = next
	slot.UpdatedAt = now
	if err := tx.UpsertSlot(ctx, slot); err != nil {
		return Applied{}, err
	}
	movement.ID = m.newID()
	movement.ItemID = slot.ItemID
	movement.LocationID = slot.LocationID
	movement.PrevQty = prev
	movement.NewQty = next
	movement.CreatedAt = now
	if err := tx.InsertMovement(ctx, movement); err != nil {
		return Applied{}, err
	}
	return Applied{
		ItemID:     slot.ItemID,
		LocationID: slot.LocationID,
		PrevQty:    prev,
		NewQty:     next,
		Diff:       next.Sub(prev),
		MovementID: movement.ID,
	}, nil
}

func validateTarget(itemID, locationID string) error {
	if itemID == "" {
		return shared.NewValidationError("item_id", "required")
	}
	if locationID == "" {
		return shared.NewValidationError("location_id", "required")
	}
	return nil
}
