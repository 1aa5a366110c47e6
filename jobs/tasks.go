package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/stockimport"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueImports isolates spreadsheet imports from the periodic checks.
	QueueImports = "imports"

	// TaskIntegrityCheck verifies the stock and balance invariants.
	TaskIntegrityCheck = "backoffice:integrity_check"
	// TaskStockImport applies an uploaded spreadsheet of counted quantities.
	TaskStockImport = "backoffice:stock_import"
	// TaskLedgerResync recomputes cached customer balances.
	TaskLedgerResync = "backoffice:ledger_resync"
)

// IntegrityCheckPayload carries scheduling metadata. Repair resyncs drifted balances after the check.
type IntegrityCheckPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	Repair       bool      `json:"repair"`
}

// StockImportPayload carries the workbook itself so that workers need no shared storage.
type StockImportPayload struct {
	FileName string `json:"file_name"`
	Content  []byte `json:"content"`
	ActorID  string `json:"actor_id"`
}

// LedgerResyncPayload names one customer, or every customer when empty.
type LedgerResyncPayload struct {
	CustomerID string `json:"customer_id,omitempty"`
}

// NewIntegrityCheckTask constructs an integrity check task.
func NewIntegrityCheckTask(at time.Time, repair bool) (*asynq.Task, error) {
	body, err := json.Marshal(IntegrityCheckPayload{ScheduledFor: at, Repair: repair})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIntegrityCheck, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// NewStockImportTask constructs an import task whose id is derived from the workbook content, so
// enqueueing the same file twice while the first is pending is rejected by the queue.
func NewStockImportTask(payload StockImportPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockImport, body,
		asynq.Queue(QueueImports),
		asynq.TaskID(stockimport.BatchID(payload.Content)),
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
	), nil
}

// NewLedgerResyncTask constructs a ledger resync task.
func NewLedgerResyncTask(customerID string) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerResyncPayload{CustomerID: customerID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerResync, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
