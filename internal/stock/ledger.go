package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-retail/backoffice/internal/conversion"
	"github.com/odyssey-retail/backoffice/internal/shared"
)

// Writer appends movements. The ledger exposes no update or delete.
type Writer interface {
	Append(ctx context.Context, entry Entry) (int64, error)
}

// Reader sums normalized movements.
type Reader interface {
	SumBase(ctx context.Context, productID int64) (decimal.Decimal, error)
}

// Store is the transactional surface of the ledger.
type Store interface {
	Writer
	Reader
}

// Append normalizes entry and writes it.
func Append(ctx context.Context, w Writer, entry Entry) (Entry, error) {
	if entry.ProductID <= 0 || entry.UnitID <= 0 {
		return Entry{}, fmt.Errorf("%w: movement requires product and unit", shared.ErrValidation)
	}
	if !entry.UnitFactor.IsPositive() {
		return Entry{}, fmt.Errorf("%w: movement requires a positive unit factor", shared.ErrValidation)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry = entry.Normalized()
	id, err := w.Append(ctx, entry)
	if err != nil {
		return Entry{}, fmt.Errorf("stock: append movement: %w", err)
	}
	entry.ID = id
	return entry, nil
}

// Current computes on-hand stock in the product's default sale unit.
func Current(ctx context.Context, r Reader, conv conversion.Reader, productID int64) (Level, error) {
	def, err := conversion.DefaultSale(ctx, conv, productID)
	if err != nil {
		return Level{}, err
	}
	base, err := r.SumBase(ctx, productID)
	if err != nil {
		return Level{}, fmt.Errorf("stock: sum movements: %w", err)
	}
	return Level{
		ProductID:    productID,
		Quantity:     base.Div(def.Factor),
		UnitID:       def.UnitID,
		UnitName:     def.UnitName,
		BaseQuantity: base,
	}, nil
}
