package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// reconcileWindow collapses repeated reconcile requests for one product.
const reconcileWindow = time.Minute

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client submits reconcile jobs to the queue.
type Client struct {
	client enqueuer
	now    func() time.Time
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts), now: time.Now}, nil
}

// ScheduleLedgerReconcile enqueues a reconcile of one product. Requests for the
// same product within reconcileWindow are merged.
func (c *Client) ScheduleLedgerReconcile(ctx context.Context, productID int64, reason string) error {
	task, err := NewLedgerReconcileTask(productID, reason)
	if err != nil {
		return err
	}
	window := c.now().Truncate(reconcileWindow).Unix()
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.TaskID(fmt.Sprintf("reconcile:%d:%d", productID, window)),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
