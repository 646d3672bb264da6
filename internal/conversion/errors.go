package conversion

import (
	"fmt"
	"strings"

	"github.com/odyssey-retail/backoffice/internal/shared"
)

var (
	// ErrInvalidFactor indicates a non-positive quantity factor.
	ErrInvalidFactor = fmt.Errorf("%w: unit_qty must be greater than zero", shared.ErrValidation)
	// ErrInvalidPrice indicates a negative price.
	ErrInvalidPrice = fmt.Errorf("%w: unit_price must not be negative", shared.ErrValidation)
	// ErrInvalidType indicates an unknown conversion type.
	ErrInvalidType = fmt.Errorf("%w: type must be purchase or sale", shared.ErrValidation)
	// ErrDuplicateCombo indicates an active (product, unit, type) already exists.
	ErrDuplicateCombo = fmt.Errorf("conversion: active product/unit/type combination exists: %w", shared.ErrDuplicate)
	// ErrDefaultRequired indicates the current default cannot be unset or retired
	// before another conversion takes over.
	ErrDefaultRequired = fmt.Errorf("%w: make another conversion default first", shared.ErrValidation)
	// ErrSaleUnitRequired indicates the last active sale conversion of a product
	// with ledger history cannot be retired or moved to another type.
	ErrSaleUnitRequired = fmt.Errorf("%w: product has stock movements and needs an active sale conversion", shared.ErrValidation)
	// ErrDefaultConflict indicates a concurrent writer claimed the default first.
	ErrDefaultConflict = fmt.Errorf("conversion: concurrent default change: %w", shared.ErrDuplicate)
	// ErrNotFound indicates a missing conversion id.
	ErrNotFound = fmt.Errorf("conversion: %w", shared.ErrNotFound)
)

// Unconfigured identifies one (product, unit, type) without an active conversion.
type Unconfigured struct {
	ProductID int64 `json:"product_id"`
	UnitID    int64 `json:"unit_id"`
	Type      Type  `json:"type"`
	Line      int   `json:"line,omitempty"`
}

// NotConfiguredError lists every unconfigured pair found in a request.
type NotConfiguredError struct {
	Pairs []Unconfigured
}

func (e *NotConfiguredError) Error() string {
	parts := make([]string, 0, len(e.Pairs))
	for _, p := range e.Pairs {
		s := fmt.Sprintf("product %d unit %d (%s)", p.ProductID, p.UnitID, p.Type)
		if p.Line > 0 {
			s = fmt.Sprintf("line %d: %s", p.Line, s)
		}
		parts = append(parts, s)
	}
	return fmt.Sprintf("%s: %s", shared.ErrNotConfigured, strings.Join(parts, ", "))
}

// Is matches shared.ErrNotConfigured.
func (e *NotConfiguredError) Is(target error) bool {
	return target == shared.ErrNotConfigured
}

// ProblemMeta lists the offending pairs.
func (e *NotConfiguredError) ProblemMeta() map[string]any {
	return map[string]any{"unconfigured": e.Pairs}
}
