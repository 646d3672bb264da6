package stock

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-retail/backoffice/internal/conversion"
	"github.com/odyssey-retail/backoffice/internal/shared"
)

// MovementType tags the origin of a ledger movement.
type MovementType string

const (
	// MovementPurchase increases stock.
	MovementPurchase MovementType = "purchase"
	// MovementSale decreases stock.
	MovementSale MovementType = "sale"
	// MovementAdjustment moves stock either way.
	MovementAdjustment MovementType = "adjustment"
)

// ConversionType returns the conversion type whose factors apply to movements of t.
func (t MovementType) ConversionType() conversion.Type {
	if t == MovementPurchase {
		return conversion.TypePurchase
	}
	return conversion.TypeSale
}

// Entry is one immutable ledger movement. Qty is in UnitID terms; BaseQty is
// Qty x UnitFactor captured when the movement was written.
type Entry struct {
	ID            int64           `json:"id"`
	ProductID     int64           `json:"product_id"`
	TransactionID int64           `json:"transaction_id"`
	Type          MovementType    `json:"type"`
	Qty           decimal.Decimal `json:"qty"`
	UnitID        int64           `json:"unit_id"`
	UnitFactor    decimal.Decimal `json:"unit_factor"`
	BaseQty       decimal.Decimal `json:"base_qty"`
	IsReversal    bool            `json:"is_reversal"`
	Description   string          `json:"description,omitempty"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Normalized returns e with BaseQty derived from Qty and UnitFactor.
func (e Entry) Normalized() Entry {
	e.BaseQty = e.Qty.Mul(e.UnitFactor)
	return e
}

// Reversal returns the movement that cancels e. The factor snapshot is kept so
// the reversal negates exactly the base quantity originally written.
func (e Entry) Reversal(actorID int64, at time.Time) Entry {
	n := e.Normalized()
	return Entry{
		ProductID:     n.ProductID,
		TransactionID: n.TransactionID,
		Type:          n.Type,
		Qty:           n.Qty.Neg(),
		UnitID:        n.UnitID,
		UnitFactor:    n.UnitFactor,
		BaseQty:       n.BaseQty.Neg(),
		IsReversal:    true,
		Description:   n.Description,
		CreatedBy:     actorID,
		CreatedAt:     at,
	}
}

// HistoryEntry is a movement with resolved display names.
type HistoryEntry struct {
	Entry
	UnitName          string `json:"unit_name"`
	CreatorName       string `json:"creator_name"`
	TransactionNumber string `json:"transaction_number"`
}

// HistoryPage is a page of movements, newest first.
type HistoryPage struct {
	Entries    []HistoryEntry    `json:"entries"`
	Pagination shared.Pagination `json:"pagination"`
}

// Level is the on-hand quantity in default-sale-unit terms.
type Level struct {
	ProductID    int64           `json:"product_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitID       int64           `json:"unit_id"`
	UnitName     string          `json:"unit"`
	BaseQuantity decimal.Decimal `json:"base_quantity"`
}

// UnitTotal sums raw quantities per unit and conversion type.
type UnitTotal struct {
	UnitID int64
	Type   conversion.Type
	Qty    decimal.Decimal
}

// ReconcileReport compares the normalized stock against the figure obtained
// by re-reading today's factors for every historical movement.
type ReconcileReport struct {
	ProductID       int64           `json:"product_id"`
	UnitID          int64           `json:"unit_id"`
	Normalized      decimal.Decimal `json:"normalized"`
	FactorSensitive decimal.Decimal `json:"factor_sensitive"`
	Drift           decimal.Decimal `json:"drift"`
	Unresolved      []int64         `json:"unresolved_units,omitempty"`
	CheckedAt       time.Time       `json:"checked_at"`
}

// HasDrift reports whether the two figures disagree.
func (r ReconcileReport) HasDrift() bool {
	return !r.Drift.IsZero() || len(r.Unresolved) > 0
}
