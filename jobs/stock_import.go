package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/stockimport"
)

// StockImporter applies a workbook.
type StockImporter interface {
	Import(ctx context.Context, content []byte) (stockimport.Report, error)
}

// StockImportJob runs spreadsheet imports.
type StockImportJob struct {
	Importer StockImporter
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewStockImportJob builds the handler.
func NewStockImportJob(importer StockImporter, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockImportJob {
	return &StockImportJob{Importer: importer, Logger: logger, Metrics: metrics}
}

// Handle executes TaskStockImport. A workbook that cannot be read is not retried; rows already
// applied by an earlier attempt are skipped through their idempotency keys.
func (j *StockImportJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Importer == nil {
		return errors.New("stock import: handler not configured")
	}
	var payload StockImportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || len(payload.Content) == 0 {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskStockImport)
	defer func() { err = tracker.End(err) }()

	logger := loggerOr(j.Logger).With(
		slog.String("job", TaskStockImport),
		slog.String("file", payload.FileName))
	if payload.ActorID != "" {
		ctx = shared.ContextWithActor(ctx, payload.ActorID)
	}

	report, err := j.Importer.Import(ctx, payload.Content)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		logger.Error("stock import rejected", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	for _, rowErr := range report.Errors {
		logger.Warn("stock import row rejected", slog.Int("line", rowErr.Line), slog.String("reason", rowErr.Error()))
	}
	logger.Info("stock import completed",
		slog.String("batch_id", report.BatchID),
		slog.Int("rows", report.Rows),
		slog.Int("applied", len(report.Applied)),
		slog.Int("duplicates", report.Duplicates),
		slog.Int("errors", len(report.Errors)))
	return nil
}
