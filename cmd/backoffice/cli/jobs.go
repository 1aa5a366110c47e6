package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/jobs"
)

// JobsCLI enqueues and inspects worker tasks from the command line.
type JobsCLI struct {
	client    *jobs.Client
	inspector QueueReader
	closers   []func() error
}

// QueueReader reads queue state. *asynq.Inspector satisfies it.
type QueueReader interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// NewJobsCLI connects a client and an inspector to the worker's Redis.
func NewJobsCLI(redisOpts asynq.RedisClientOpt) *JobsCLI {
	client := jobs.NewClient(redisOpts)
	inspector := asynq.NewInspector(redisOpts)
	return &JobsCLI{
		client:    client,
		inspector: inspector,
		closers:   []func() error{inspector.Close, client.Close},
	}
}

// Close releases both connections and reports every error.
func (c *JobsCLI) Close() error {
	var errs []error
	for _, closeFn := range c.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}

// Trigger enqueues a supported job by name. arg is the customer id for ledger resync.
func (c *JobsCLI) Trigger(ctx context.Context, name, arg string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	switch name {
	case jobs.TaskIntegrityCheck:
		return c.client.EnqueueIntegrityCheck(ctx, arg == "repair")
	case jobs.TaskLedgerResync:
		return c.client.EnqueueLedgerResync(ctx, arg)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// EnqueueImport reads a workbook from disk and enqueues it on the imports queue.
func (c *JobsCLI) EnqueueImport(ctx context.Context, path, actorID string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jobs cli: read %s: %w", path, err)
	}
	return c.client.EnqueueStockImport(ctx, jobs.StockImportPayload{
		FileName: filepath.Base(path),
		Content:  content,
		ActorID:  actorID,
	})
}

// QueueStats is one queue's depth by task state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueues reports every queue the worker serves. A queue that never received a task
// reports zeros.
func (c *JobsCLI) InspectQueues(ctx context.Context) ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	out := make([]QueueStats, 0, len(jobs.Queues))
	for _, queue := range jobs.Queues {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := c.inspector.GetQueueInfo(queue)
		if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, fmt.Errorf("jobs cli: inspect %s: %w", queue, err)
		}
		stats := QueueStats{Queue: queue}
		if info != nil {
			stats.Pending, stats.Active, stats.Scheduled = info.Pending, info.Active, info.Scheduled
			stats.Retry, stats.Archived = info.Retry, info.Archived
		}
		out = append(out, stats)
	}
	return out, nil
}
