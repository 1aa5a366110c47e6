package stockimport

import (
	"context"
	"errors"
	"log/slog"

	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/stock"
)

const idempotencyModule = "stockimport.row"

// Service applies parsed rows one transaction per row. Each row claims its idempotency key in
// the same transaction that sets the quantity, so a failed row leaves no key behind.
type Service struct {
	tx      stock.TxRunner
	locks   shared.Locker
	mutator *stock.Mutator
	parser  *Parser
	logger  *slog.Logger
}

// NewService builds Service.
func NewService(tx stock.TxRunner, locks shared.Locker, logger *slog.Logger) *Service {
	if locks == nil {
		locks = shared.NewKeyedMutex(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{tx: tx, locks: locks, mutator: stock.NewMutator(), parser: NewParser(), logger: logger}
}

// Import parses content and sets every valid row. Row failures are collected in the report; only
// an unreadable workbook or a cancelled context fails the call.
func (s *Service) Import(ctx context.Context, content []byte) (Report, error) {
	rows, rejects, err := s.parser.Parse(content)
	if err != nil {
		return Report{}, err
	}
	report := Report{BatchID: BatchID(content), Rows: len(rows) + len(rejects), Errors: rejects}
	actor := shared.ActorFromContext(ctx)

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		applied, dup, err := s.applyRow(ctx, report.BatchID, actor, row)
		switch {
		case err != nil:
			report.Errors = append(report.Errors, RowError{Line: row.Line, Field: "item_id", Reason: err.Error()})
		case dup:
			report.Duplicates++
		default:
			report.Applied = append(report.Applied, applied)
		}
	}

	s.logger.Info("stock import finished",
		slog.String("batch_id", report.BatchID),
		slog.Int("rows", report.Rows),
		slog.Int("applied", len(report.Applied)),
		slog.Int("duplicates", report.Duplicates),
		slog.Int("errors", len(report.Errors)))
	return report, nil
}

func (s *Service) applyRow(ctx context.Context, batchID, actor string, row Row) (stock.Applied, bool, error) {
	applied, err := s.set(ctx, rowKey(batchID, row.Line), batchID, actor, row)
	switch {
	case errors.Is(err, shared.ErrIdempotencyConflict):
		return stock.Applied{}, true, nil
	case err != nil:
		s.logger.Warn("stock import row failed", slog.Int("line", row.Line), slog.String("item_id", row.ItemID), slog.Any("error", err))
		return stock.Applied{}, false, err
	}
	return applied, false, nil
}

func (s *Service) set(ctx context.Context, key, batchID, actor string, row Row) (stock.Applied, error) {
	unlock, err := s.locks.Acquire(ctx, shared.ItemLockKey(row.ItemID))
	if err != nil {
		return stock.Applied{}, err
	}
	defer unlock()

	var applied stock.Applied
	err = s.tx.WithStockTx(ctx, func(ctx context.Context, tx stock.TxRepository, keys stock.KeyClaimer) error {
		if err := keys.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			return err
		}
		var err error
		applied, err = s.mutator.SetQuantity(ctx, tx, stock.SetInput{
			ItemID:     row.ItemID,
			LocationID: row.LocationID,
			Qty:        row.Qty,
			RefType:    stock.RefImport,
			RefID:      batchID,
			Remark:     "spreadsheet import",
			ActorID:    actor,
		})
		return err
	})
	return applied, err
}
