package jobs

import (
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReconcile reconciles the ledger of one product.
	TaskLedgerReconcile = "stock:reconcile"
	// TaskLedgerReconcileAll reconciles every product with movements.
	TaskLedgerReconcileAll = "stock:reconcile_all"
)

// LedgerReconcilePayload identifies the product and what triggered the run.
type LedgerReconcilePayload struct {
	ProductID int64  `json:"product_id"`
	Reason    string `json:"reason"`
}

// NewLedgerReconcileTask constructs an Asynq task for one product.
func NewLedgerReconcileTask(productID int64, reason string) (*asynq.Task, error) {
	if productID <= 0 {
		return nil, errors.New("jobs: reconcile task requires product id")
	}
	body, err := json.Marshal(LedgerReconcilePayload{ProductID: productID, Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, body, asynq.Queue(QueueDefault)), nil
}

// NewLedgerReconcileAllTask constructs the nightly full reconciliation task.
func NewLedgerReconcileAllTask() (*asynq.Task, error) {
	body, err := json.Marshal(LedgerReconcilePayload{Reason: "nightly"})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcileAll, body, asynq.Queue(QueueDefault)), nil
}
