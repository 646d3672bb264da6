package transaction

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-retail/backoffice/internal/conversion"
	"github.com/odyssey-retail/backoffice/internal/shared"
	"github.com/odyssey-retail/backoffice/internal/stock"
)

// Type enumerates transaction kinds.
type Type string

const (
	// TypePurchase receives stock from a supplier.
	TypePurchase Type = "purchase"
	// TypeSale issues stock to a customer against payment.
	TypeSale Type = "sale"
	// TypeAdjustment corrects stock either way.
	TypeAdjustment Type = "adjustment"
)

// Valid reports whether t is a known transaction type.
func (t Type) Valid() bool {
	switch t {
	case TypePurchase, TypeSale, TypeAdjustment:
		return true
	}
	return false
}

// Prefix returns the number prefix for t.
func (t Type) Prefix() string {
	switch t {
	case TypePurchase:
		return "PUR"
	case TypeSale:
		return "SAL"
	default:
		return "ADJ"
	}
}

// ConversionType returns the conversion type used to resolve lines of t.
// Adjustments are counted in sale units.
func (t Type) ConversionType() conversion.Type {
	if t == TypePurchase {
		return conversion.TypePurchase
	}
	return conversion.TypeSale
}

// Movement returns the ledger movement type for t.
func (t Type) Movement() stock.MovementType {
	return stock.MovementType(t)
}

// Priced reports whether t carries monetary totals.
func (t Type) Priced() bool {
	return t == TypePurchase || t == TypeSale
}

// SignedQty converts a line quantity into the ledger sign convention.
func (t Type) SignedQty(qty decimal.Decimal) decimal.Decimal {
	if t == TypeSale {
		return qty.Neg()
	}
	return qty
}

// FormatNumber renders <PREFIX>-<YYYYMMDD>-<seq>.
func FormatNumber(t Type, day time.Time, seq int64) string {
	return fmt.Sprintf("%s-%s-%04d", t.Prefix(), day.Format("20060102"), seq)
}

// Transaction is a posted header with its lines.
type Transaction struct {
	ID            int64           `json:"id"`
	Number        string          `json:"number"`
	Type          Type            `json:"type"`
	Date          time.Time       `json:"date"`
	Description   string          `json:"description,omitempty"`
	Total         decimal.Decimal `json:"total"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Change        decimal.Decimal `json:"change"`
	Items         []Item          `json:"items"`
	CreatedBy     int64           `json:"created_by"`
	UpdatedBy     int64           `json:"updated_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// WithChange derives the change due on a sale. It is never persisted.
func (t Transaction) WithChange() Transaction {
	t.Change = decimal.Zero
	if t.Type == TypeSale && t.AmountPaid.GreaterThan(t.Total) {
		t.Change = t.AmountPaid.Sub(t.Total)
	}
	return t
}

// Lines converts the stored items back into request lines.
func (t Transaction) Lines() []Line {
	lines := make([]Line, 0, len(t.Items))
	for _, it := range t.Items {
		lines = append(lines, Line{ProductID: it.ProductID, UnitID: it.UnitID, Qty: it.Qty, Description: it.Description})
	}
	return lines
}

// Item is one transaction line. Qty is positive for purchases and sales and
// signed for adjustments; UnitFactor is the conversion factor at write time.
type Item struct {
	ID            int64           `json:"id"`
	TransactionID int64           `json:"transaction_id"`
	ProductID     int64           `json:"product_id"`
	UnitID        int64           `json:"unit_id"`
	UnitName      string          `json:"unit_name,omitempty"`
	Qty           decimal.Decimal `json:"qty"`
	UnitFactor    decimal.Decimal `json:"unit_factor"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Description   string          `json:"description,omitempty"`
}

// Line is a requested transaction line.
type Line struct {
	ProductID   int64
	UnitID      int64
	Qty         decimal.Decimal
	Price       *decimal.Decimal
	Description string
}

// Payment carries sale payment fields.
type Payment struct {
	AmountPaid decimal.Decimal
	Method     string
}

// CreateInput describes a new transaction.
type CreateInput struct {
	Type           Type
	Date           time.Time
	Description    string
	Lines          []Line
	Payment        *Payment
	ActorID        int64
	IdempotencyKey string
}

// UpdateInput replaces the lines, date, description and payment of a transaction.
type UpdateInput struct {
	ID          int64
	Type        Type
	Date        time.Time
	Description string
	Lines       []Line
	Payment     *Payment
	ActorID     int64
}

// ListFilter narrows transaction listings.
type ListFilter struct {
	Type  Type
	From  time.Time
	To    time.Time
	Page  int
	Limit int
}

// ListResult is a page of transaction headers.
type ListResult struct {
	Transactions []Transaction     `json:"transactions"`
	Pagination   shared.Pagination `json:"pagination"`
}
