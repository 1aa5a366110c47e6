package stockimport_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/odyssey-erp/backoffice/internal/stock"
	"github.com/odyssey-erp/backoffice/internal/stockimport"
	"github.com/odyssey-erp/backoffice/internal/store/memory"
)

func workbook(t *testing.T, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cellRef, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func newStore() *memory.Store {
	store := memory.New()
	store.AddItem("I1", "Rice")
	store.AddItem("I2", "Oil")
	store.SeedSlot("I1", "L1", decimal.NewFromInt(100))
	return store
}

func TestImportSetsQuantitiesOnce(t *testing.T) {
	store := newStore()
	svc := stockimport.NewService(store, nil, nil)
	ctx := context.Background()

	content := workbook(t,
		[]any{"Location", "SKU", "Quantity"},
		[]any{"L1", "I1", "80"},
		[]any{"L2", "I2", "12.5"},
	)

	report, err := svc.Import(ctx, content)
	require.NoError(t, err)
	require.True(t, report.OK(), "%+v", report.Errors)
	require.Equal(t, 2, report.Rows)
	require.Len(t, report.Applied, 2)
	require.Equal(t, stockimport.BatchID(content), report.BatchID)
	require.True(t, store.Slot("I1", "L1").Qty.Equal(decimal.NewFromInt(80)))
	require.True(t, store.Slot("I2", "L2").Qty.Equal(decimal.RequireFromString("12.5")))

	moves := store.Movements()
	require.Len(t, moves, 2)
	require.Equal(t, stock.DirectionAudit, moves[0].Direction)
	require.Equal(t, stock.RefImport, moves[0].RefType)
	require.True(t, moves[0].Qty.Equal(decimal.NewFromInt(-20)))

	again, err := svc.Import(ctx, content)
	require.NoError(t, err)
	require.Empty(t, again.Applied)
	require.Equal(t, 2, again.Duplicates)
	require.Len(t, store.Movements(), 2)
	require.Equal(t, 2, store.IdempotencyKeys())
}

func TestImportCollectsRowErrors(t *testing.T) {
	store := newStore()
	svc := stockimport.NewService(store, nil, nil)

	content := workbook(t,
		[]any{"item_id", "location_id", "qty"},
		[]any{"I1", "", "5"},
		[]any{"I1", "L1", "lots"},
		[]any{"I2", "L1", "-3"},
		[]any{},
		[]any{"GONE", "L1", "4"},
		[]any{"I2", "L1", "9"},
	)

	report, err := svc.Import(context.Background(), content)
	require.NoError(t, err)
	require.False(t, report.OK())
	require.Equal(t, 5, report.Rows)
	require.Len(t, report.Applied, 1)
	require.Len(t, report.Errors, 4)

	byLine := map[int]stockimport.RowError{}
	for _, e := range report.Errors {
		byLine[e.Line] = e
	}
	require.Equal(t, "location_id", byLine[2].Field)
	require.Equal(t, "qty", byLine[3].Field)
	require.Equal(t, "qty", byLine[4].Field)
	require.Contains(t, byLine[6].Reason, "GONE")

	require.Equal(t, 1, store.IdempotencyKeys())
	require.True(t, store.Slot("I2", "L1").Qty.Equal(decimal.NewFromInt(9)))
	require.True(t, store.Slot("I1", "L1").Qty.Equal(decimal.NewFromInt(100)))
}

func TestImportFailedRowReleasesKey(t *testing.T) {
	store := newStore()
	svc := stockimport.NewService(store, nil, nil)
	ctx := context.Background()
	content := workbook(t,
		[]any{"item_id", "location_id", "qty"},
		[]any{"I1", "L1", "70"},
	)

	store.FailNext("InsertMovement", errors.New("disk full"))
	report, err := svc.Import(ctx, content)
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	require.Contains(t, report.Errors[0].Reason, "disk full")
	require.Zero(t, store.IdempotencyKeys())
	require.True(t, store.Slot("I1", "L1").Qty.Equal(decimal.NewFromInt(100)))
	require.Empty(t, store.Movements())

	again, err := svc.Import(ctx, content)
	require.NoError(t, err)
	require.True(t, again.OK(), "%+v", again.Errors)
	require.Zero(t, again.Duplicates)
	require.Len(t, again.Applied, 1)
	require.Equal(t, 1, store.IdempotencyKeys())
	require.True(t, store.Slot("I1", "L1").Qty.Equal(decimal.NewFromInt(70)))
}

func TestImportClaimFailureSkipsRow(t *testing.T) {
	store := newStore()
	svc := stockimport.NewService(store, nil, nil)
	content := workbook(t,
		[]any{"item_id", "location_id", "qty"},
		[]any{"I1", "L1", "70"},
	)

	store.FailNext("CheckAndInsert", errors.New("connection reset"))
	report, err := svc.Import(context.Background(), content)
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	require.Empty(t, report.Applied)
	require.Empty(t, store.Movements())
	require.True(t, store.Slot("I1", "L1").Qty.Equal(decimal.NewFromInt(100)))
}

func TestImportRejectsMalformedFiles(t *testing.T) {
	svc := stockimport.NewService(newStore(), nil, nil)
	ctx := context.Background()

	_, err := svc.Import(ctx, []byte("not a workbook"))
	require.Error(t, err)

	_, err = svc.Import(ctx, workbook(t, []any{"item_id", "qty"}, []any{"I1", "1"}))
	require.ErrorIs(t, err, stockimport.ErrMissingColumn)

	_, err = svc.Import(ctx, workbook(t, []any{"item_id", "location_id", "qty"}))
	require.ErrorIs(t, err, stockimport.ErrEmptySheet)
}
