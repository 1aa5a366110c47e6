package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/reconcile"
)

// IntegrityChecker runs one integrity pass.
type IntegrityChecker interface {
	Run(ctx context.Context) (reconcile.Report, error)
}

// BalanceResyncer recomputes cached customer balances.
type BalanceResyncer interface {
	Resync(ctx context.Context, customerID string) (ledger.ResyncResult, error)
	ResyncAll(ctx context.Context) ([]ledger.ResyncResult, error)
}

// IntegrityJob runs the integrity check and optionally repairs balance drift.
type IntegrityJob struct {
	Checker IntegrityChecker
	Ledger  BalanceResyncer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIntegrityJob builds the handler.
func NewIntegrityJob(checker IntegrityChecker, ledger BalanceResyncer, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityJob {
	return &IntegrityJob{Checker: checker, Ledger: ledger, Logger: logger, Metrics: metrics}
}

// Handle executes TaskIntegrityCheck. Violations are reported through logs and metrics; only a
// failed read fails the task.
func (j *IntegrityJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Checker == nil {
		return errors.New("integrity check: handler not configured")
	}
	var payload IntegrityCheckPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskIntegrityCheck)
	defer func() { err = tracker.End(err) }()

	start := time.Now()
	logger := loggerOr(j.Logger).With(slog.String("job", TaskIntegrityCheck))
	report, err := j.Checker.Run(ctx)
	if err != nil {
		logger.Error("integrity check failed", slog.Any("error", err))
		return err
	}

	j.Metrics.AddViolations("slot", len(report.SlotViolations))
	j.Metrics.AddViolations("balance", len(report.BalanceViolations))
	j.Metrics.AddViolations("duplicate_ref", len(report.DuplicateRefs))
	j.Metrics.AddViolations("document", len(report.DocumentViolations))

	for _, v := range report.SlotViolations {
		logger.Warn("stock invariant broken",
			slog.String("item_id", v.ItemID),
			slog.String("location_id", v.LocationID),
			slog.String("stored", v.Stored.String()),
			slog.String("expected", v.Expected.String()))
	}
	for _, v := range report.DuplicateRefs {
		logger.Warn("reference owns several ledger entries", slog.String("ref_id", v.RefID), slog.Int("count", v.Count))
	}
	for _, v := range report.DocumentViolations {
		logger.Warn("document movements disagree with its status",
			slog.String("doc_id", v.DocumentID),
			slog.String("item_id", v.ItemID),
			slog.String("expected", v.Expected.String()),
			slog.String("actual", v.Actual.String()))
	}

	if payload.Repair && len(report.BalanceViolations) > 0 && j.Ledger != nil {
		for _, v := range report.BalanceViolations {
			result, err := j.Ledger.Resync(ctx, v.CustomerID)
			if err != nil {
				logger.Error("balance repair failed", slog.String("customer_id", v.CustomerID), slog.Any("error", err))
				return err
			}
			if !result.Drift.IsZero() {
				j.Metrics.AddDriftCorrections(1)
			}
		}
	} else {
		for _, v := range report.BalanceViolations {
			logger.Warn("balance invariant broken",
				slog.String("customer_id", v.CustomerID),
				slog.String("stored", v.Stored.String()),
				slog.String("expected", v.Expected.String()))
		}
	}

	logger.Info("integrity check completed",
		slog.Int("slots", report.Slots),
		slog.Int("customers", report.Customers),
		slog.Int("documents", report.Documents),
		slog.Int("violations", report.ViolationCount()),
		slog.Bool("repair", payload.Repair),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func loggerOr(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
