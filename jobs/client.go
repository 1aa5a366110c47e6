package jobs

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// Client enqueues back-office tasks.
type Client struct {
	client *asynq.Client
	now    func() time.Time
}

// NewClient connects an asynq client to redisOpts.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts), now: time.Now}
}

// EnqueueIntegrityCheck schedules an immediate integrity pass. repair resyncs drifted balances.
func (c *Client) EnqueueIntegrityCheck(ctx context.Context, repair bool) (*asynq.TaskInfo, error) {
	return c.enqueue(ctx, func() (*asynq.Task, error) { return NewIntegrityCheckTask(c.now().UTC(), repair) })
}

// EnqueueStockImport queues a workbook. The same content cannot be queued twice while pending;
// asynq reports that as ErrTaskIDConflict.
func (c *Client) EnqueueStockImport(ctx context.Context, payload StockImportPayload) (*asynq.TaskInfo, error) {
	return c.enqueue(ctx, func() (*asynq.Task, error) { return NewStockImportTask(payload) })
}

// EnqueueLedgerResync queues a resync for one customer, or all of them when customerID is empty.
func (c *Client) EnqueueLedgerResync(ctx context.Context, customerID string) (*asynq.TaskInfo, error) {
	return c.enqueue(ctx, func() (*asynq.Task, error) { return NewLedgerResyncTask(customerID) })
}

func (c *Client) enqueue(ctx context.Context, build func() (*asynq.Task, error)) (*asynq.TaskInfo, error) {
	task, err := build()
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases the redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
