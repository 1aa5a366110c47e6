package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// LedgerResyncJob recomputes cached balances on demand.
type LedgerResyncJob struct {
	Ledger  BalanceResyncer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerResyncJob builds the handler.
func NewLedgerResyncJob(ledger BalanceResyncer, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerResyncJob {
	return &LedgerResyncJob{Ledger: ledger, Logger: logger, Metrics: metrics}
}

// Handle executes TaskLedgerResync.
func (j *LedgerResyncJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger resync: handler not configured")
	}
	var payload LedgerResyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskLedgerResync)
	defer func() { err = tracker.End(err) }()

	logger := loggerOr(j.Logger).With(slog.String("job", TaskLedgerResync))
	var drifted []ledger.ResyncResult
	if payload.CustomerID != "" {
		result, err := j.Ledger.Resync(ctx, payload.CustomerID)
		if err != nil {
			if shared.IsClientError(err) {
				logger.Warn("ledger resync rejected", slog.String("customer_id", payload.CustomerID), slog.Any("error", err))
				return asynq.SkipRetry
			}
			return err
		}
		if !result.Drift.IsZero() {
			drifted = append(drifted, result)
		}
	} else {
		drifted, err = j.Ledger.ResyncAll(ctx)
		if err != nil {
			return err
		}
	}
	j.Metrics.AddDriftCorrections(len(drifted))
	logger.Info("ledger resync completed",
		slog.String("customer_id", payload.CustomerID),
		slog.Int("drifted", len(drifted)))
	return nil
}
