package conversion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-retail/backoffice/internal/catalog"
	"github.com/odyssey-retail/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
	GetByID(ctx context.Context, id int64) (Conversion, error)
	GetDefault(ctx context.Context, productID int64, typ Type) (Conversion, error)
	ListByProduct(ctx context.Context, productID int64) ([]Conversion, error)
	ListLogsByProduct(ctx context.Context, productID int64) ([]Log, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ReconcileScheduler queues a ledger reconciliation for a product.
type ReconcileScheduler interface {
	ScheduleLedgerReconcile(ctx context.Context, productID int64, reason string) error
}

// Service coordinates conversion registry operations.
type Service struct {
	repo      RepositoryPort
	catalog   catalog.Reader
	audit     AuditPort
	reconcile ReconcileScheduler
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds Service. audit and reconcile may be nil.
func NewService(repo RepositoryPort, cat catalog.Reader, audit AuditPort, reconcile ReconcileScheduler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		catalog:   cat,
		audit:     audit,
		reconcile: reconcile,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func validateAttributes(typ Type, factor, price decimal.Decimal) error {
	if !typ.Valid() {
		return ErrInvalidType
	}
	if !factor.IsPositive() {
		return ErrInvalidFactor
	}
	if price.IsNegative() {
		return ErrInvalidPrice
	}
	return nil
}

// Create registers a conversion. The first active conversion of a
// (product, type) always becomes its default.
func (s *Service) Create(ctx context.Context, input CreateInput) (Conversion, error) {
	if input.ProductID <= 0 || input.UnitID <= 0 {
		return Conversion{}, fmt.Errorf("%w: product_id and unit_id required", shared.ErrValidation)
	}
	if err := validateAttributes(input.Type, input.Factor, input.Price); err != nil {
		return Conversion{}, err
	}
	if _, err := catalog.RequireActiveProduct(ctx, s.catalog, input.ProductID); err != nil {
		return Conversion{}, err
	}
	unit, err := catalog.RequireActiveUnit(ctx, s.catalog, input.UnitID)
	if err != nil {
		return Conversion{}, err
	}

	now := s.now()
	var created Conversion
	err = s.repo.WithTx(ctx, func(ctx context.Context, st Store) error {
		exists, err := st.ExistsActiveCombo(ctx, input.ProductID, input.UnitID, input.Type, 0)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateCombo
		}
		siblings, err := st.CountActive(ctx, input.ProductID, input.Type, 0)
		if err != nil {
			return err
		}
		c := Conversion{
			ProductID: input.ProductID,
			UnitID:    input.UnitID,
			UnitName:  unit.Name,
			Type:      input.Type,
			Factor:    input.Factor,
			Price:     RoundPrice(input.Price),
			IsActive:  true,
			Note:      input.Note,
			CreatedBy: input.ActorID,
			UpdatedBy: input.ActorID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		id, err := st.Insert(ctx, c)
		if err != nil {
			return err
		}
		c.ID = id
		if input.IsDefault || siblings == 0 {
			if err := st.SetDefault(ctx, c.ProductID, c.Type, c.ID); err != nil {
				return err
			}
			c.IsDefault = true
		}
		if _, err := RecordPriceChange(ctx, st, PriceChange{
			ConversionID: c.ID,
			OldPrice:     decimal.Zero,
			NewPrice:     c.Price,
			Note:         input.Note,
			ActorID:      input.ActorID,
			At:           now,
		}); err != nil {
			return err
		}
		created = c
		return nil
	})
	if err != nil {
		return Conversion{}, err
	}
	s.record(ctx, input.ActorID, "conversion:create", created, map[string]any{
		"product_id": created.ProductID,
		"unit_id":    created.UnitID,
		"type":       created.Type,
		"unit_qty":   created.Factor.String(),
		"unit_price": created.Price.String(),
		"is_default": created.IsDefault,
	})
	return created, nil
}

// Update replaces factor, price, unit, type, default and active flags.
func (s *Service) Update(ctx context.Context, input UpdateInput) (Conversion, error) {
	if input.ID <= 0 || input.UnitID <= 0 {
		return Conversion{}, fmt.Errorf("%w: id and unit_id required", shared.ErrValidation)
	}
	if err := validateAttributes(input.Type, input.Factor, input.Price); err != nil {
		return Conversion{}, err
	}

	now := s.now()
	var (
		updated        Conversion
		previous       Conversion
		factorChanged  bool
		defaultChanged bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, st Store) error {
		current, err := st.GetByID(ctx, input.ID)
		if err != nil {
			return err
		}
		previous = current

		active := current.IsActive
		if input.IsActive != nil {
			active = *input.IsActive
		}
		typeChanged := input.Type != current.Type
		wantDefault := current.IsDefault && !typeChanged
		if input.IsDefault != nil {
			wantDefault = *input.IsDefault
		}

		next := current
		if input.UnitID != current.UnitID {
			unit, err := catalog.RequireActiveUnit(ctx, s.catalog, input.UnitID)
			if err != nil {
				return err
			}
			next.UnitName = unit.Name
		}

		if current.IsDefault && current.IsActive && active && !typeChanged && !wantDefault {
			return ErrDefaultRequired
		}
		leaving := current.IsActive && (!active || typeChanged)
		if leaving && (current.IsDefault || current.Type == TypeSale) {
			others, err := st.CountActive(ctx, current.ProductID, current.Type, current.ID)
			if err != nil {
				return err
			}
			if current.IsDefault && others > 0 {
				return ErrDefaultRequired
			}
			if current.Type == TypeSale && others == 0 {
				moved, err := st.HasMovements(ctx, current.ProductID)
				if err != nil {
					return err
				}
				if moved {
					return ErrSaleUnitRequired
				}
			}
		}
		if active {
			exists, err := st.ExistsActiveCombo(ctx, current.ProductID, input.UnitID, input.Type, current.ID)
			if err != nil {
				return err
			}
			if exists {
				return ErrDuplicateCombo
			}
		}

		next.UnitID = input.UnitID
		next.Type = input.Type
		next.Factor = input.Factor
		next.Price = RoundPrice(input.Price)
		next.IsActive = active
		next.IsDefault = current.IsDefault && active && !typeChanged
		next.Note = input.Note
		next.UpdatedBy = input.ActorID
		next.UpdatedAt = now
		if err := st.Update(ctx, next); err != nil {
			return err
		}

		if active && !next.IsDefault {
			makeDefault := wantDefault
			if !makeDefault {
				_, err := st.GetDefault(ctx, next.ProductID, next.Type)
				switch {
				case errors.Is(err, shared.ErrNotFound):
					makeDefault = true
				case err != nil:
					return err
				}
			}
			if makeDefault {
				if err := st.SetDefault(ctx, next.ProductID, next.Type, next.ID); err != nil {
					return err
				}
				next.IsDefault = true
			}
		}

		if !current.Price.Equal(next.Price) {
			if _, err := RecordPriceChange(ctx, st, PriceChange{
				ConversionID: next.ID,
				OldPrice:     current.Price,
				NewPrice:     next.Price,
				Note:         input.Note,
				ActorID:      input.ActorID,
				At:           now,
			}); err != nil {
				return err
			}
		}
		factorChanged = !current.Factor.Equal(next.Factor)
		defaultChanged = current.IsDefault != next.IsDefault
		updated = next
		return nil
	})
	if err != nil {
		return Conversion{}, err
	}

	if factorChanged || defaultChanged {
		s.scheduleReconcile(ctx, updated.ProductID, reconcileReason(factorChanged))
	}
	s.record(ctx, input.ActorID, "conversion:update", updated, map[string]any{
		"old_unit_qty":   previous.Factor.String(),
		"unit_qty":       updated.Factor.String(),
		"old_unit_price": previous.Price.String(),
		"unit_price":     updated.Price.String(),
		"is_default":     updated.IsDefault,
		"is_active":      updated.IsActive,
	})
	return updated, nil
}

// SetDefault makes conversion id the default of its (product, type).
func (s *Service) SetDefault(ctx context.Context, id, actorID int64) (Conversion, error) {
	var out Conversion
	var changed bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, st Store) error {
		c, err := st.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !c.IsActive {
			return fmt.Errorf("%w: inactive conversion cannot be default", shared.ErrValidation)
		}
		if !c.IsDefault {
			if err := st.SetDefault(ctx, c.ProductID, c.Type, c.ID); err != nil {
				return err
			}
			c.IsDefault = true
			changed = true
		}
		out = c
		return nil
	})
	if err != nil {
		return Conversion{}, err
	}
	if changed {
		s.scheduleReconcile(ctx, out.ProductID, "default")
		s.record(ctx, actorID, "conversion:set_default", out, map[string]any{"type": out.Type})
	}
	return out, nil
}

// Get returns a conversion by id.
func (s *Service) Get(ctx context.Context, id int64) (Conversion, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByProduct returns every conversion of a product.
func (s *Service) ListByProduct(ctx context.Context, productID int64) ([]Conversion, error) {
	if _, err := s.catalog.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	list, err := s.repo.ListByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []Conversion{}
	}
	return list, nil
}

// GetProductConversionDetail loads conversions, defaults and price history.
func (s *Service) GetProductConversionDetail(ctx context.Context, productID int64) (Detail, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return Detail{}, err
	}
	detail := Detail{ProductID: product.ID, ProductName: product.Name}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := s.repo.ListByProduct(gctx, productID)
		detail.Conversions = list
		return err
	})
	g.Go(func() error {
		logs, err := s.repo.ListLogsByProduct(gctx, productID)
		detail.PriceHistory = logs
		return err
	})
	g.Go(func() error {
		purchase, err := s.optionalDefault(gctx, productID, TypePurchase)
		if err != nil {
			return err
		}
		sale, err := s.optionalDefault(gctx, productID, TypeSale)
		if err != nil {
			return err
		}
		detail.DefaultUnits = DefaultUnits{Purchase: purchase, Sale: sale}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Detail{}, err
	}
	if detail.Conversions == nil {
		detail.Conversions = []Conversion{}
	}
	if detail.PriceHistory == nil {
		detail.PriceHistory = []Log{}
	}
	return detail, nil
}

func (s *Service) optionalDefault(ctx context.Context, productID int64, typ Type) (*Conversion, error) {
	c, err := s.repo.GetDefault(ctx, productID, typ)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Service) scheduleReconcile(ctx context.Context, productID int64, reason string) {
	if s.reconcile == nil {
		return
	}
	if err := s.reconcile.ScheduleLedgerReconcile(ctx, productID, reason); err != nil {
		s.logger.Warn("schedule ledger reconcile", slog.Int64("product_id", productID), slog.Any("error", err))
	}
}

func reconcileReason(factorChanged bool) string {
	if factorChanged {
		return "factor"
	}
	return "default"
}

func (s *Service) record(ctx context.Context, actorID int64, action string, c Conversion, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "conversion",
		EntityID: strconv.FormatInt(c.ID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("conversion audit", slog.String("action", action), slog.Any("error", err))
	}
}
