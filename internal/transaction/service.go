package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-retail/backoffice/internal/conversion"
	"github.com/odyssey-retail/backoffice/internal/shared"
	"github.com/odyssey-retail/backoffice/internal/stock"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Transaction, error)
	List(ctx context.Context, filter ListFilter) ([]Transaction, int, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort remembers create requests by client key.
type IdempotencyPort interface {
	Reserve(ctx context.Context, module, key string) (string, bool, error)
	Complete(ctx context.Context, module, key, result string) error
	Release(ctx context.Context, module, key string) error
}

// MetricsPort receives engine counters.
type MetricsPort interface {
	TransactionPosted(kind, operation string)
	GuardRejected(kind string)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// Location decides the business day used for numbering and default dates.
	Location *time.Location
}

// Service is the transaction engine for purchases, sales and adjustments.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	metrics     MetricsPort
	logger      *slog.Logger
	loc         *time.Location
	now         func() time.Time
}

// NewService builds Service. audit, idem and metrics may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, metrics MetricsPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		metrics:     metrics,
		logger:      logger,
		loc:         loc,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type resolvedLine struct {
	Line
	conv     conversion.Conversion
	price    decimal.Decimal
	subtotal decimal.Decimal
}

func (l resolvedLine) guardLine(typ Type) stock.GuardLine {
	return stock.GuardLine{ProductID: l.ProductID, UnitID: l.UnitID, Qty: typ.SignedQty(l.Qty), Factor: l.conv.Factor}
}

// Create validates and posts a new transaction in one unit of work.
func (s *Service) Create(ctx context.Context, input CreateInput) (Transaction, error) {
	if err := validateRequest(input.Type, input.Lines, input.Payment); err != nil {
		return Transaction{}, err
	}
	module := idempotencyModule(input.Type)
	reserved := false
	if input.IdempotencyKey != "" && s.idempotency != nil {
		existing, ok, err := s.idempotency.Reserve(ctx, module, input.IdempotencyKey)
		if err != nil {
			return Transaction{}, err
		}
		if !ok {
			id, err := strconv.ParseInt(existing, 10, 64)
			if err != nil {
				return Transaction{}, fmt.Errorf("transaction: idempotency record %q: %w", existing, err)
			}
			s.logger.Info("idempotent replay", slog.String("type", string(input.Type)), slog.Int64("transaction_id", id))
			return s.Get(ctx, input.Type, id)
		}
		reserved = true
	}

	now := s.now()
	date := s.businessDate(input.Date, now)
	var created Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockProducts(ctx, productIDs(input.Lines, nil)); err != nil {
			return err
		}
		lines, err := resolveLines(ctx, tx, input.Type, input.Lines)
		if err != nil {
			return err
		}
		total := totalOf(lines)
		paid, method, err := checkPayment(input.Type, total, input.Payment)
		if err != nil {
			return err
		}
		if input.Type != TypePurchase {
			if err := s.guard(ctx, tx, input.Type, lines, nil); err != nil {
				return err
			}
		}
		seq, err := tx.NextSequence(ctx, input.Type, now.In(s.loc))
		if err != nil {
			return err
		}
		header := Transaction{
			Number:        FormatNumber(input.Type, now.In(s.loc), seq),
			Type:          input.Type,
			Date:          date,
			Description:   input.Description,
			Total:         total,
			AmountPaid:    paid,
			PaymentMethod: method,
			CreatedBy:     input.ActorID,
			UpdatedBy:     input.ActorID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		id, err := tx.InsertTransaction(ctx, header)
		if err != nil {
			return err
		}
		header.ID = id
		items, err := writeLines(ctx, tx, header, lines, input.ActorID, now)
		if err != nil {
			return err
		}
		if err := applySubmittedPrices(ctx, tx, header, lines, input.ActorID, now); err != nil {
			return err
		}
		header.Items = items
		created = header
		return nil
	})
	if err != nil {
		if reserved {
			if relErr := s.idempotency.Release(ctx, module, input.IdempotencyKey); relErr != nil {
				s.logger.Warn("release idempotency key", slog.Any("error", relErr))
			}
		}
		return Transaction{}, err
	}
	if reserved {
		s.completeIdempotency(ctx, module, input.IdempotencyKey, created.ID)
	}
	s.posted(ctx, "create", created)
	return created.WithChange(), nil
}

// completeAttempts bounds writes of the replay record after a commit.
const completeAttempts = 3

var completeBackoff = 50 * time.Millisecond

// completeIdempotency stores the replay record. When every attempt fails the
// pending marker expires on its own and the key becomes usable again.
func (s *Service) completeIdempotency(ctx context.Context, module, key string, id int64) {
	result := strconv.FormatInt(id, 10)
	var err error
	for attempt := 1; attempt <= completeAttempts; attempt++ {
		if err = s.idempotency.Complete(ctx, module, key, result); err == nil {
			return
		}
		if attempt == completeAttempts {
			break
		}
		timer := time.NewTimer(time.Duration(attempt) * completeBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Error("complete idempotency key", slog.String("key", key), slog.Int64("transaction_id", id), slog.Any("error", ctx.Err()))
			return
		case <-timer.C:
		}
	}
	s.logger.Error("complete idempotency key", slog.String("key", key), slog.Int64("transaction_id", id),
		slog.Int("attempts", completeAttempts), slog.Any("error", err))
}

// Update reverses every existing line and applies the new line set. The
// header keeps its id and number.
func (s *Service) Update(ctx context.Context, input UpdateInput) (Transaction, error) {
	if input.ID <= 0 {
		return Transaction{}, fmt.Errorf("%w: transaction id required", shared.ErrValidation)
	}
	if err := validateRequest(input.Type, input.Lines, input.Payment); err != nil {
		return Transaction{}, err
	}
	now := s.now()
	var updated Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetTransactionForUpdate(ctx, input.ID)
		if err != nil {
			return err
		}
		if current.Type != input.Type {
			return ErrNotFound
		}
		oldItems, err := tx.ListItems(ctx, current.ID)
		if err != nil {
			return err
		}
		if err := tx.LockProducts(ctx, productIDs(input.Lines, oldItems)); err != nil {
			return err
		}
		lines, err := resolveLines(ctx, tx, input.Type, input.Lines)
		if err != nil {
			return err
		}
		total := totalOf(lines)
		paid, method, err := checkPayment(input.Type, total, input.Payment)
		if err != nil {
			return err
		}
		if err := s.guard(ctx, tx, input.Type, lines, oldItems); err != nil {
			return err
		}

		for _, it := range oldItems {
			original := stock.Entry{
				ProductID:     it.ProductID,
				TransactionID: current.ID,
				Type:          input.Type.Movement(),
				Qty:           input.Type.SignedQty(it.Qty),
				UnitID:        it.UnitID,
				UnitFactor:    it.UnitFactor,
				Description:   "reversal " + current.Number,
			}
			if _, err := stock.Append(ctx, tx, original.Reversal(input.ActorID, now)); err != nil {
				return err
			}
		}

		next := current
		next.Date = s.businessDate(input.Date, now)
		next.Description = input.Description
		next.Total = total
		next.AmountPaid = paid
		next.PaymentMethod = method
		next.UpdatedBy = input.ActorID
		next.UpdatedAt = now
		if err := tx.UpdateTransaction(ctx, next); err != nil {
			return err
		}
		if err := tx.DeleteItems(ctx, current.ID); err != nil {
			return err
		}
		items, err := writeLines(ctx, tx, next, lines, input.ActorID, now)
		if err != nil {
			return err
		}
		if err := applySubmittedPrices(ctx, tx, next, lines, input.ActorID, now); err != nil {
			return err
		}
		next.Items = items
		updated = next
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.posted(ctx, "update", updated)
	return updated.WithChange(), nil
}

// Get returns a transaction of the given type with its items.
func (s *Service) Get(ctx context.Context, typ Type, id int64) (Transaction, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if t.Type != typ {
		return Transaction{}, ErrNotFound
	}
	if t.Items == nil {
		t.Items = []Item{}
	}
	return t.WithChange(), nil
}

// List returns a page of transaction headers of one type.
func (s *Service) List(ctx context.Context, filter ListFilter) (ListResult, error) {
	if !filter.Type.Valid() {
		return ListResult{}, ErrInvalidType
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return ListResult{}, fmt.Errorf("%w: to must not be before from", shared.ErrValidation)
	}
	filter.Page, filter.Limit = shared.NormalizePage(filter.Page, filter.Limit)
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return ListResult{}, err
	}
	out := make([]Transaction, 0, len(rows))
	for _, t := range rows {
		out = append(out, t.WithChange())
	}
	return ListResult{Transactions: out, Pagination: shared.NewPagination(filter.Page, filter.Limit, total)}, nil
}

func (s *Service) guard(ctx context.Context, tx TxRepository, typ Type, lines []resolvedLine, oldItems []Item) error {
	newLines := make([]stock.GuardLine, 0, len(lines))
	for _, l := range lines {
		newLines = append(newLines, l.guardLine(typ))
	}
	var oldLines []stock.GuardLine
	for _, it := range oldItems {
		oldLines = append(oldLines, stock.GuardLine{ProductID: it.ProductID, UnitID: it.UnitID, Qty: typ.SignedQty(it.Qty), Factor: it.UnitFactor})
	}
	err := stock.Simulate(ctx, tx, newLines, oldLines)
	if errors.Is(err, shared.ErrNegativeStock) && s.metrics != nil {
		s.metrics.GuardRejected(string(typ))
	}
	return err
}

func (s *Service) businessDate(date, now time.Time) time.Time {
	if date.IsZero() {
		date = now.In(s.loc)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Service) posted(ctx context.Context, operation string, t Transaction) {
	if s.metrics != nil {
		s.metrics.TransactionPosted(string(t.Type), operation)
	}
	s.logger.Info("transaction posted",
		slog.String("operation", operation),
		slog.String("number", t.Number),
		slog.Int("items", len(t.Items)),
		slog.String("total", t.Total.String()))
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  t.UpdatedBy,
		Action:   fmt.Sprintf("transaction:%s:%s", t.Type, operation),
		Entity:   "transaction",
		EntityID: strconv.FormatInt(t.ID, 10),
		Meta: map[string]any{
			"number": t.Number,
			"total":  t.Total.String(),
			"items":  len(t.Items),
		},
	}); err != nil {
		s.logger.Warn("transaction audit", slog.Any("error", err))
	}
}

func idempotencyModule(typ Type) string {
	return "transaction:" + string(typ)
}
