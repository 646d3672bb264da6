package conversion

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type distinguishes purchase and sale conversions.
type Type string

const (
	// TypePurchase prices and sizes units bought from suppliers.
	TypePurchase Type = "purchase"
	// TypeSale prices and sizes units sold to customers; the default sale unit
	// is the unit stock is reported in.
	TypeSale Type = "sale"
)

// Valid reports whether t is a known conversion type.
func (t Type) Valid() bool {
	return t == TypePurchase || t == TypeSale
}

// Conversion ties a (product, unit, type) to a quantity factor and price.
type Conversion struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	UnitID    int64           `json:"unit_id"`
	UnitName  string          `json:"unit_name,omitempty"`
	Type      Type            `json:"type"`
	Factor    decimal.Decimal `json:"unit_qty"`
	Price     decimal.Decimal `json:"unit_price"`
	IsDefault bool            `json:"is_default"`
	IsActive  bool            `json:"is_active"`
	Note      string          `json:"note,omitempty"`
	CreatedBy int64           `json:"created_by"`
	UpdatedBy int64           `json:"updated_by"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Log is one price-history row; ValidTo is nil for the open row.
type Log struct {
	ID           int64           `json:"id"`
	ConversionID int64           `json:"conversion_id"`
	OldPrice     decimal.Decimal `json:"old_price"`
	NewPrice     decimal.Decimal `json:"new_price"`
	Note         string          `json:"note,omitempty"`
	ValidFrom    time.Time       `json:"valid_from"`
	ValidTo      *time.Time      `json:"valid_to"`
	CreatedBy    int64           `json:"created_by"`
}

// Open reports whether the row is the current price.
func (l Log) Open() bool {
	return l.ValidTo == nil
}

// CreateInput describes a new conversion.
type CreateInput struct {
	ProductID int64
	UnitID    int64
	Type      Type
	Factor    decimal.Decimal
	Price     decimal.Decimal
	IsDefault bool
	Note      string
	ActorID   int64
}

// UpdateInput replaces the mutable attributes of a conversion.
type UpdateInput struct {
	ID        int64
	UnitID    int64
	Type      Type
	Factor    decimal.Decimal
	Price     decimal.Decimal
	IsDefault *bool
	IsActive  *bool
	Note      string
	ActorID   int64
}

// PriceChange records a price transition.
type PriceChange struct {
	ConversionID int64
	OldPrice     decimal.Decimal
	NewPrice     decimal.Decimal
	Note         string
	ActorID      int64
	At           time.Time
}

// DefaultUnits holds the default purchase and sale conversions of a product.
type DefaultUnits struct {
	Purchase *Conversion `json:"purchase"`
	Sale     *Conversion `json:"sale"`
}

// Detail aggregates everything configured for one product.
type Detail struct {
	ProductID    int64        `json:"product_id"`
	ProductName  string       `json:"product_name"`
	Conversions  []Conversion `json:"conversions"`
	DefaultUnits DefaultUnits `json:"default_units"`
	PriceHistory []Log        `json:"price_history"`
}
