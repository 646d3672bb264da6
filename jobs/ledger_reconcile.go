package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-retail/backoffice/internal/jobs"
	"github.com/odyssey-retail/backoffice/internal/shared"
	"github.com/odyssey-retail/backoffice/internal/stock"
)

// Reconciler recomputes ledger figures.
type Reconciler interface {
	Reconcile(ctx context.Context, productID int64) (stock.ReconcileReport, error)
	ReconcileAll(ctx context.Context) ([]stock.ReconcileReport, error)
}

// LedgerReconcileJob compares normalized stock with the factor-sensitive figure
// after factor or default unit changes.
type LedgerReconcileJob struct {
	Reconciler Reconciler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewLedgerReconcileJob initialises the reconcile handlers.
func NewLedgerReconcileJob(reconciler Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerReconcileJob {
	return &LedgerReconcileJob{Reconciler: reconciler, Logger: logger, Metrics: metrics}
}

// Handle reconciles the product named by the task payload.
func (j *LedgerReconcileJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Reconciler == nil {
		return errors.New("ledger reconcile: handler not configured")
	}
	var payload LedgerReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.ProductID <= 0 {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskLedgerReconcile)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(slog.Int64("product_id", payload.ProductID), slog.String("reason", payload.Reason))
	report, err := j.Reconciler.Reconcile(ctx, payload.ProductID)
	if errors.Is(err, shared.ErrNotConfigured) || errors.Is(err, shared.ErrNotFound) {
		logger.Warn("ledger reconcile skipped", slog.Any("error", err))
		return nil
	}
	if err != nil {
		logger.Error("ledger reconcile failed", slog.Any("error", err))
		return err
	}
	if report.HasDrift() {
		j.Metrics.AddDrift(payload.Reason, 1)
		logger.Warn("ledger drift detected",
			slog.String("normalized", report.Normalized.String()),
			slog.String("factor_sensitive", report.FactorSensitive.String()),
			slog.String("drift", report.Drift.String()))
		return nil
	}
	logger.Info("ledger consistent", slog.String("stock", report.Normalized.String()))
	return nil
}

// HandleAll reconciles every product with movements.
func (j *LedgerReconcileJob) HandleAll(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Reconciler == nil {
		return errors.New("ledger reconcile: handler not configured")
	}
	tracker := j.Metrics.Track(TaskLedgerReconcileAll)
	defer func() {
		err = tracker.End(err)
	}()

	start := time.Now()
	drifting, err := j.Reconciler.ReconcileAll(ctx)
	if err != nil {
		j.logger().Error("ledger reconcile all failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddDrift("nightly", len(drifting))
	for _, r := range drifting {
		j.logger().Warn("ledger drift detected",
			slog.Int64("product_id", r.ProductID),
			slog.String("drift", r.Drift.String()),
			slog.Int("unresolved_units", len(r.Unresolved)))
	}
	j.logger().Info("completed ledger reconcile",
		slog.Int("drifting", len(drifting)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *LedgerReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
