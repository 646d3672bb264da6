package conversion

import "github.com/shopspring/decimal"

// CreateRequest is the JSON body for creating a conversion.
type CreateRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	UnitID    int64           `json:"unit_id" validate:"required,gt=0"`
	Type      Type            `json:"type" validate:"required,oneof=purchase sale"`
	Factor    decimal.Decimal `json:"unit_qty" validate:"gt=0"`
	Price     decimal.Decimal `json:"unit_price" validate:"gte=0"`
	IsDefault bool            `json:"is_default"`
	Note      string          `json:"note" validate:"max=500"`
}

// UpdateRequest is the JSON body for updating a conversion.
type UpdateRequest struct {
	UnitID    int64           `json:"unit_id" validate:"required,gt=0"`
	Type      Type            `json:"type" validate:"required,oneof=purchase sale"`
	Factor    decimal.Decimal `json:"unit_qty" validate:"gt=0"`
	Price     decimal.Decimal `json:"unit_price" validate:"gte=0"`
	IsDefault *bool           `json:"is_default"`
	IsActive  *bool           `json:"is_active"`
	Note      string          `json:"note" validate:"max=500"`
}

// ToInput maps the request onto service input.
func (r CreateRequest) ToInput(actorID int64) CreateInput {
	return CreateInput{
		ProductID: r.ProductID,
		UnitID:    r.UnitID,
		Type:      r.Type,
		Factor:    r.Factor,
		Price:     r.Price,
		IsDefault: r.IsDefault,
		Note:      r.Note,
		ActorID:   actorID,
	}
}

// ToInput maps the request onto service input.
func (r UpdateRequest) ToInput(id, actorID int64) UpdateInput {
	return UpdateInput{
		ID:        id,
		UnitID:    r.UnitID,
		Type:      r.Type,
		Factor:    r.Factor,
		Price:     r.Price,
		IsDefault: r.IsDefault,
		IsActive:  r.IsActive,
		Note:      r.Note,
		ActorID:   actorID,
	}
}
