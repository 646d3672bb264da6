package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a conflicting active record already exists.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrNotConfigured indicates a (product, unit, type) pair without an active conversion.
	ErrNotConfigured = errors.New("unit not configured for product")
	// ErrInsufficientPayment indicates a sale paid below its total.
	ErrInsufficientPayment = errors.New("insufficient payment")
	// ErrNegativeStock indicates an operation would drive on-hand quantity below zero.
	ErrNegativeStock = errors.New("stock would go negative")
)
