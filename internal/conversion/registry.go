package conversion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-retail/backoffice/internal/shared"
)

// Reader resolves conversions. Implementations return shared.ErrNotFound for
// missing rows.
type Reader interface {
	GetActive(ctx context.Context, productID, unitID int64, typ Type) (Conversion, error)
	GetDefault(ctx context.Context, productID int64, typ Type) (Conversion, error)
}

// PriceWriter persists price changes and their history.
type PriceWriter interface {
	UpdatePrice(ctx context.Context, id int64, price decimal.Decimal, actorID int64, at time.Time) error
	CloseOpenLog(ctx context.Context, conversionID int64, at time.Time) error
	InsertLog(ctx context.Context, log Log) (int64, error)
}

// Store is the full transactional surface of the registry.
type Store interface {
	Reader
	PriceWriter
	GetByID(ctx context.Context, id int64) (Conversion, error)
	ExistsActiveCombo(ctx context.Context, productID, unitID int64, typ Type, excludeID int64) (bool, error)
	CountActive(ctx context.Context, productID int64, typ Type, excludeID int64) (int, error)
	Insert(ctx context.Context, c Conversion) (int64, error)
	Update(ctx context.Context, c Conversion) error
	SetDefault(ctx context.Context, productID int64, typ Type, id int64) error
	ListByProduct(ctx context.Context, productID int64) ([]Conversion, error)
	ListLogsByProduct(ctx context.Context, productID int64) ([]Log, error)
	HasMovements(ctx context.Context, productID int64) (bool, error)
}

// GetActiveConversion returns the active conversion for a pair or a
// *NotConfiguredError.
func GetActiveConversion(ctx context.Context, r Reader, productID, unitID int64, typ Type) (Conversion, error) {
	c, err := r.GetActive(ctx, productID, unitID, typ)
	if errors.Is(err, shared.ErrNotFound) {
		return Conversion{}, &NotConfiguredError{Pairs: []Unconfigured{{ProductID: productID, UnitID: unitID, Type: typ}}}
	}
	if err != nil {
		return Conversion{}, err
	}
	return c, nil
}

// DefaultSale returns the product's default sale conversion, the unit current
// stock is expressed in.
func DefaultSale(ctx context.Context, r Reader, productID int64) (Conversion, error) {
	c, err := r.GetDefault(ctx, productID, TypeSale)
	if errors.Is(err, shared.ErrNotFound) {
		return Conversion{}, fmt.Errorf("product %d has no default sale unit: %w", productID, shared.ErrNotConfigured)
	}
	return c, err
}

// PriceScale is the number of decimals prices are stored with.
const PriceScale = 2

// RoundPrice rounds p to the stored price scale.
func RoundPrice(p decimal.Decimal) decimal.Decimal {
	return p.Round(PriceScale)
}

// RecordPriceChange closes the open history row and opens a new one.
func RecordPriceChange(ctx context.Context, w PriceWriter, change PriceChange) (Log, error) {
	at := change.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if err := w.CloseOpenLog(ctx, change.ConversionID, at); err != nil {
		return Log{}, fmt.Errorf("conversion: close price log: %w", err)
	}
	log := Log{
		ConversionID: change.ConversionID,
		OldPrice:     change.OldPrice,
		NewPrice:     change.NewPrice,
		Note:         change.Note,
		ValidFrom:    at,
		CreatedBy:    change.ActorID,
	}
	id, err := w.InsertLog(ctx, log)
	if err != nil {
		return Log{}, fmt.Errorf("conversion: open price log: %w", err)
	}
	log.ID = id
	return log, nil
}

// ApplyPrice updates the stored price of c and records the change. It is a
// no-op when the price is unchanged.
func ApplyPrice(ctx context.Context, w PriceWriter, c Conversion, price decimal.Decimal, note string, actorID int64, at time.Time) (Conversion, bool, error) {
	price = RoundPrice(price)
	if price.Equal(c.Price) {
		return c, false, nil
	}
	if price.IsNegative() {
		return c, false, ErrInvalidPrice
	}
	if err := w.UpdatePrice(ctx, c.ID, price, actorID, at); err != nil {
		return c, false, fmt.Errorf("conversion: update price: %w", err)
	}
	if _, err := RecordPriceChange(ctx, w, PriceChange{
		ConversionID: c.ID,
		OldPrice:     c.Price,
		NewPrice:     price,
		Note:         note,
		ActorID:      actorID,
		At:           at,
	}); err != nil {
		return c, false, err
	}
	c.Price = price
	c.UpdatedBy = actorID
	c.UpdatedAt = at
	return c, true, nil
}
