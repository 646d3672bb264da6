package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-retail/backoffice/internal/catalog"
	"github.com/odyssey-retail/backoffice/internal/conversion"
	"github.com/odyssey-retail/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	Reader
	History(ctx context.Context, productID int64, limit, offset int) ([]HistoryEntry, int, error)
	UnitTotals(ctx context.Context, productID int64) ([]UnitTotal, error)
	ProductsWithMovements(ctx context.Context) ([]int64, error)
}

// Service answers stock queries outside a unit of work.
type Service struct {
	repo        RepositoryPort
	conversions conversion.Reader
	catalog     catalog.Reader
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, conversions conversion.Reader, cat catalog.Reader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		conversions: conversions,
		catalog:     cat,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CurrentStock returns on-hand quantity in the default sale unit.
func (s *Service) CurrentStock(ctx context.Context, productID int64) (Level, error) {
	if err := s.ensureProduct(ctx, productID); err != nil {
		return Level{}, err
	}
	return Current(ctx, s.repo, s.conversions, productID)
}

// History returns a page of movements, newest first.
func (s *Service) History(ctx context.Context, productID int64, page, limit int) (HistoryPage, error) {
	if err := s.ensureProduct(ctx, productID); err != nil {
		return HistoryPage{}, err
	}
	page, limit = shared.NormalizePage(page, limit)
	entries, total, err := s.repo.History(ctx, productID, limit, shared.Offset(page, limit))
	if err != nil {
		return HistoryPage{}, err
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	return HistoryPage{Entries: entries, Pagination: shared.NewPagination(page, limit, total)}, nil
}

// Reconcile recomputes stock with today's factor of every movement unit and
// compares it with the normalized figure.
func (s *Service) Reconcile(ctx context.Context, productID int64) (ReconcileReport, error) {
	def, err := conversion.DefaultSale(ctx, s.conversions, productID)
	if err != nil {
		return ReconcileReport{}, err
	}
	base, err := s.repo.SumBase(ctx, productID)
	if err != nil {
		return ReconcileReport{}, err
	}
	totals, err := s.repo.UnitTotals(ctx, productID)
	if err != nil {
		return ReconcileReport{}, err
	}
	legacyBase := decimal.Zero
	var unresolved []int64
	for _, t := range totals {
		if t.Qty.IsZero() {
			continue
		}
		c, err := s.conversions.GetActive(ctx, productID, t.UnitID, t.Type)
		if errors.Is(err, shared.ErrNotFound) {
			unresolved = append(unresolved, t.UnitID)
			continue
		}
		if err != nil {
			return ReconcileReport{}, fmt.Errorf("stock: reconcile factor: %w", err)
		}
		legacyBase = legacyBase.Add(t.Qty.Mul(c.Factor))
	}
	normalized := base.Div(def.Factor)
	legacy := legacyBase.Div(def.Factor)
	report := ReconcileReport{
		ProductID:       productID,
		UnitID:          def.UnitID,
		Normalized:      normalized,
		FactorSensitive: legacy,
		Drift:           legacy.Sub(normalized),
		Unresolved:      unresolved,
		CheckedAt:       s.now(),
	}
	if report.HasDrift() {
		s.logger.Info("stock reconcile drift",
			slog.Int64("product_id", productID),
			slog.String("normalized", normalized.String()),
			slog.String("factor_sensitive", legacy.String()),
			slog.Int("unresolved_units", len(unresolved)))
	}
	return report, nil
}

// ReconcileAll reconciles every product with movements and returns the drifting ones.
func (s *Service) ReconcileAll(ctx context.Context) ([]ReconcileReport, error) {
	ids, err := s.repo.ProductsWithMovements(ctx)
	if err != nil {
		return nil, err
	}
	var drifting []ReconcileReport
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return drifting, err
		}
		report, err := s.Reconcile(ctx, id)
		if errors.Is(err, shared.ErrNotConfigured) {
			s.logger.Warn("stock reconcile skipped", slog.Int64("product_id", id), slog.Any("error", err))
			continue
		}
		if err != nil {
			return drifting, err
		}
		if report.HasDrift() {
			drifting = append(drifting, report)
		}
	}
	return drifting, nil
}

func (s *Service) ensureProduct(ctx context.Context, productID int64) error {
	if productID <= 0 {
		return fmt.Errorf("%w: product id required", shared.ErrValidation)
	}
	if s.catalog == nil {
		return nil
	}
	_, err := s.catalog.GetProduct(ctx, productID)
	return err
}
