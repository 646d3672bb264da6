package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-retail/backoffice/internal/conversion"
	"github.com/odyssey-retail/backoffice/internal/shared"
)

// GuardLine is one signed movement the guard simulates. Factor converts Qty
// into base units.
type GuardLine struct {
	ProductID int64
	UnitID    int64
	Qty       decimal.Decimal
	Factor    decimal.Decimal
}

// Base returns the line quantity in base units.
func (l GuardLine) Base() decimal.Decimal {
	return l.Qty.Mul(l.Factor)
}

// GuardSource supplies current figures to the guard, normally the caller's
// unit of work.
type GuardSource interface {
	Reader
	conversion.Reader
}

// NegativeStockError reports a simulated negative on-hand quantity. Values are
// in UnitID terms, the product's default sale unit.
type NegativeStockError struct {
	ProductID int64
	UnitID    int64
	UnitName  string
	Current   decimal.Decimal
	Old       decimal.Decimal
	New       decimal.Decimal
	Delta     decimal.Decimal
	Resulting decimal.Decimal
}

func (e *NegativeStockError) Error() string {
	unit := e.UnitName
	if unit == "" {
		unit = fmt.Sprintf("unit %d", e.UnitID)
	}
	return fmt.Sprintf("%s: product %d (%s): current %s, old %s, new %s, delta %s, resulting %s",
		shared.ErrNegativeStock, e.ProductID, unit,
		e.Current.String(), e.Old.String(), e.New.String(), e.Delta.String(), e.Resulting.String())
}

// Is matches shared.ErrNegativeStock.
func (e *NegativeStockError) Is(target error) bool {
	return target == shared.ErrNegativeStock
}

// ProblemMeta exposes the simulated figures.
func (e *NegativeStockError) ProblemMeta() map[string]any {
	return map[string]any{
		"product_id": e.ProductID,
		"unit_id":    e.UnitID,
		"unit":       e.UnitName,
		"current":    e.Current.String(),
		"old":        e.Old.String(),
		"new":        e.New.String(),
		"delta":      e.Delta.String(),
		"resulting":  e.Resulting.String(),
	}
}

// Simulate rejects the operation when any touched product would end below
// zero: resulting = current - sum(old) + sum(new). oldLines are the lines an
// update is about to reverse and may be nil for creations.
func Simulate(ctx context.Context, src GuardSource, newLines, oldLines []GuardLine) error {
	byProduct := map[int64][2][]GuardLine{}
	for _, l := range oldLines {
		g := byProduct[l.ProductID]
		g[0] = append(g[0], l)
		byProduct[l.ProductID] = g
	}
	for _, l := range newLines {
		g := byProduct[l.ProductID]
		g[1] = append(g[1], l)
		byProduct[l.ProductID] = g
	}
	ids := make([]int64, 0, len(byProduct))
	for id := range byProduct {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, productID := range ids {
		current, err := src.SumBase(ctx, productID)
		if err != nil {
			return fmt.Errorf("stock: guard current stock: %w", err)
		}
		unit, err := reportingUnit(ctx, src, productID)
		if err != nil {
			return err
		}
		g := byProduct[productID]
		if rejected := Evaluate(productID, current, unit, g[0], g[1]); rejected != nil {
			return rejected
		}
	}
	return nil
}

// Evaluate is the pure simulation for one product. currentBase is in base
// units; unit supplies the reporting factor.
func Evaluate(productID int64, currentBase decimal.Decimal, unit conversion.Conversion, oldLines, newLines []GuardLine) *NegativeStockError {
	oldBase := sumBase(oldLines)
	newBase := sumBase(newLines)
	resulting := currentBase.Sub(oldBase).Add(newBase)
	if !resulting.IsNegative() {
		return nil
	}
	factor := unit.Factor
	if !factor.IsPositive() {
		factor = decimal.NewFromInt(1)
	}
	return &NegativeStockError{
		ProductID: productID,
		UnitID:    unit.UnitID,
		UnitName:  unit.UnitName,
		Current:   currentBase.Div(factor),
		Old:       oldBase.Div(factor),
		New:       newBase.Div(factor),
		Delta:     newBase.Sub(oldBase).Div(factor),
		Resulting: resulting.Div(factor),
	}
}

func reportingUnit(ctx context.Context, src conversion.Reader, productID int64) (conversion.Conversion, error) {
	def, err := src.GetDefault(ctx, productID, conversion.TypeSale)
	if errors.Is(err, shared.ErrNotFound) {
		// purchase-only products are reported in base units
		return conversion.Conversion{ProductID: productID, Factor: decimal.NewFromInt(1)}, nil
	}
	if err != nil {
		return conversion.Conversion{}, fmt.Errorf("stock: guard default unit: %w", err)
	}
	return def, nil
}

func sumBase(lines []GuardLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Base())
	}
	return total
}
