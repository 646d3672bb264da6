package transaction

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-retail/backoffice/internal/shared"
)

const dateLayout = "2006-01-02"

// ItemRequest is one requested line.
type ItemRequest struct {
	ProductID   int64            `json:"product_id" validate:"required,gt=0"`
	UnitID      int64            `json:"unit_id" validate:"required,gt=0"`
	Qty         decimal.Decimal  `json:"qty" validate:"ne=0"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
	Description string           `json:"description" validate:"max=255"`
}

// Request is the JSON body for creating or updating a transaction.
type Request struct {
	Date          string           `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Description   string           `json:"description" validate:"max=500"`
	Items         []ItemRequest    `json:"items" validate:"required,min=1,dive"`
	AmountPaid    *decimal.Decimal `json:"amount_paid,omitempty"`
	PaymentMethod string           `json:"payment_method" validate:"max=50"`
}

func (r Request) parts() (time.Time, []Line, *Payment, error) {
	var date time.Time
	if r.Date != "" {
		d, err := time.Parse(dateLayout, r.Date)
		if err != nil {
			return time.Time{}, nil, nil, fmt.Errorf("%w: date must be YYYY-MM-DD", shared.ErrValidation)
		}
		date = d
	}
	lines := make([]Line, 0, len(r.Items))
	for _, it := range r.Items {
		lines = append(lines, Line{
			ProductID:   it.ProductID,
			UnitID:      it.UnitID,
			Qty:         it.Qty,
			Price:       it.UnitPrice,
			Description: it.Description,
		})
	}
	var payment *Payment
	if r.AmountPaid != nil {
		payment = &Payment{AmountPaid: *r.AmountPaid, Method: r.PaymentMethod}
	}
	return date, lines, payment, nil
}

// ToCreateInput maps the request onto service input.
func (r Request) ToCreateInput(typ Type, actorID int64, idempotencyKey string) (CreateInput, error) {
	date, lines, payment, err := r.parts()
	if err != nil {
		return CreateInput{}, err
	}
	return CreateInput{
		Type:           typ,
		Date:           date,
		Description:    r.Description,
		Lines:          lines,
		Payment:        payment,
		ActorID:        actorID,
		IdempotencyKey: idempotencyKey,
	}, nil
}

// ToUpdateInput maps the request onto service input.
func (r Request) ToUpdateInput(typ Type, id, actorID int64) (UpdateInput, error) {
	date, lines, payment, err := r.parts()
	if err != nil {
		return UpdateInput{}, err
	}
	return UpdateInput{
		ID:          id,
		Type:        typ,
		Date:        date,
		Description: r.Description,
		Lines:       lines,
		Payment:     payment,
		ActorID:     actorID,
	}, nil
}
