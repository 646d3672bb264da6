package transaction

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-retail/backoffice/internal/shared"
)

var (
	// ErrNotFound indicates a missing transaction or a type mismatch.
	ErrNotFound = fmt.Errorf("transaction: %w", shared.ErrNotFound)
	// ErrInvalidType indicates an unknown transaction type.
	ErrInvalidType = fmt.Errorf("%w: unknown transaction type", shared.ErrValidation)
	// ErrNoLines indicates an empty line set.
	ErrNoLines = fmt.Errorf("%w: at least one item is required", shared.ErrValidation)
	// ErrInvalidQuantity indicates a quantity not allowed for the type.
	ErrInvalidQuantity = fmt.Errorf("%w: invalid item quantity", shared.ErrValidation)
	// ErrPaymentRequired indicates a sale without payment fields.
	ErrPaymentRequired = fmt.Errorf("%w: amount_paid is required for sales", shared.ErrValidation)
	// ErrUnexpectedPayment indicates payment fields on a non-sale.
	ErrUnexpectedPayment = fmt.Errorf("%w: payment is only accepted on sales", shared.ErrValidation)
	// ErrUnexpectedPrice indicates a submitted price on a non-purchase line.
	ErrUnexpectedPrice = fmt.Errorf("%w: unit price can only be submitted on purchases", shared.ErrValidation)
)

// InsufficientPaymentError reports a sale paid below its total.
type InsufficientPaymentError struct {
	Total      decimal.Decimal
	AmountPaid decimal.Decimal
	Shortfall  decimal.Decimal
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("%s: total %s, paid %s, short by %s",
		shared.ErrInsufficientPayment, e.Total.String(), e.AmountPaid.String(), e.Shortfall.String())
}

// Is matches shared.ErrInsufficientPayment.
func (e *InsufficientPaymentError) Is(target error) bool {
	return target == shared.ErrInsufficientPayment
}

// ProblemMeta exposes the payment figures.
func (e *InsufficientPaymentError) ProblemMeta() map[string]any {
	return map[string]any{
		"total":       e.Total.String(),
		"amount_paid": e.AmountPaid.String(),
		"shortfall":   e.Shortfall.String(),
	}
}
