package transaction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-retail/backoffice/internal/conversion"
	"github.com/odyssey-retail/backoffice/internal/shared"
	"github.com/odyssey-retail/backoffice/internal/stock"
)

func validateRequest(typ Type, lines []Line, payment *Payment) error {
	if !typ.Valid() {
		return ErrInvalidType
	}
	if len(lines) == 0 {
		return ErrNoLines
	}
	for i, l := range lines {
		if l.ProductID <= 0 || l.UnitID <= 0 {
			return fmt.Errorf("%w: line %d requires product_id and unit_id", shared.ErrValidation, i+1)
		}
		if typ == TypeAdjustment {
			if l.Qty.IsZero() {
				return fmt.Errorf("%w: line %d quantity must not be zero", ErrInvalidQuantity, i+1)
			}
		} else if !l.Qty.IsPositive() {
			return fmt.Errorf("%w: line %d quantity must be greater than zero", ErrInvalidQuantity, i+1)
		}
		if l.Price != nil {
			if typ != TypePurchase {
				return ErrUnexpectedPrice
			}
			if l.Price.IsNegative() {
				return fmt.Errorf("%w: line %d", conversion.ErrInvalidPrice, i+1)
			}
		}
	}
	switch {
	case typ == TypeSale && payment == nil:
		return ErrPaymentRequired
	case typ != TypeSale && payment != nil:
		return ErrUnexpectedPayment
	case payment != nil && payment.AmountPaid.IsNegative():
		return fmt.Errorf("%w: amount_paid must not be negative", shared.ErrValidation)
	}
	return nil
}

// resolveLines looks up the active conversion of every line and reports all
// unconfigured pairs at once.
func resolveLines(ctx context.Context, r conversion.Reader, typ Type, lines []Line) ([]resolvedLine, error) {
	ct := typ.ConversionType()
	out := make([]resolvedLine, 0, len(lines))
	missing := &conversion.NotConfiguredError{}
	for i, l := range lines {
		conv, err := conversion.GetActiveConversion(ctx, r, l.ProductID, l.UnitID, ct)
		if err != nil {
			var nc *conversion.NotConfiguredError
			if !errors.As(err, &nc) {
				return nil, err
			}
			for _, p := range nc.Pairs {
				p.Line = i + 1
				missing.Pairs = append(missing.Pairs, p)
			}
			continue
		}
		rl := resolvedLine{Line: l, conv: conv}
		if typ.Priced() {
			rl.price = conv.Price
			if l.Price != nil {
				rl.price = *l.Price
			}
			rl.subtotal = l.Qty.Mul(rl.price)
		}
		out = append(out, rl)
	}
	if len(missing.Pairs) > 0 {
		return nil, missing
	}
	return out, nil
}

func totalOf(lines []resolvedLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.subtotal)
	}
	return total
}

func checkPayment(typ Type, total decimal.Decimal, payment *Payment) (decimal.Decimal, string, error) {
	if typ != TypeSale || payment == nil {
		return decimal.Zero, "", nil
	}
	if payment.AmountPaid.LessThan(total) {
		return decimal.Zero, "", &InsufficientPaymentError{
			Total:      total,
			AmountPaid: payment.AmountPaid,
			Shortfall:  total.Sub(payment.AmountPaid),
		}
	}
	return payment.AmountPaid, payment.Method, nil
}

func productIDs(lines []Line, items []Item) []int64 {
	seen := make(map[int64]struct{}, len(lines)+len(items))
	for _, l := range lines {
		seen[l.ProductID] = struct{}{}
	}
	for _, it := range items {
		seen[it.ProductID] = struct{}{}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// writeLines persists one item and one forward movement per line.
func writeLines(ctx context.Context, tx TxRepository, header Transaction, lines []resolvedLine, actorID int64, at time.Time) ([]Item, error) {
	items := make([]Item, 0, len(lines))
	for _, l := range lines {
		item := Item{
			TransactionID: header.ID,
			ProductID:     l.ProductID,
			UnitID:        l.UnitID,
			UnitName:      l.conv.UnitName,
			Qty:           l.Qty,
			UnitFactor:    l.conv.Factor,
			UnitPrice:     l.price,
			Subtotal:      l.subtotal,
			Description:   l.Description,
		}
		id, err := tx.InsertItem(ctx, item)
		if err != nil {
			return nil, err
		}
		item.ID = id
		description := l.Description
		if description == "" {
			description = header.Number
		}
		if _, err := stock.Append(ctx, tx, stock.Entry{
			ProductID:     l.ProductID,
			TransactionID: header.ID,
			Type:          header.Type.Movement(),
			Qty:           header.Type.SignedQty(l.Qty),
			UnitID:        l.UnitID,
			UnitFactor:    l.conv.Factor,
			Description:   description,
			CreatedBy:     actorID,
			CreatedAt:     at,
		}); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// applySubmittedPrices updates purchase conversion prices that differ from
// the submitted line price. Each conversion is updated once with its last
// submitted price.
func applySubmittedPrices(ctx context.Context, tx TxRepository, header Transaction, lines []resolvedLine, actorID int64, at time.Time) error {
	if header.Type != TypePurchase {
		return nil
	}
	latest := make(map[int64]resolvedLine)
	order := make([]int64, 0, len(lines))
	for _, l := range lines {
		if l.Price == nil {
			continue
		}
		if _, ok := latest[l.conv.ID]; !ok {
			order = append(order, l.conv.ID)
		}
		latest[l.conv.ID] = l
	}
	for _, id := range order {
		l := latest[id]
		if _, _, err := conversion.ApplyPrice(ctx, tx, l.conv, *l.Price, "purchase "+header.Number, actorID, at); err != nil {
			return err
		}
	}
	return nil
}
