// Package catalog reads the product, unit and user masters owned by the
// back-office CRUD screens. The stock engine never writes to these tables.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-retail/backoffice/internal/platform/db"
	"github.com/odyssey-retail/backoffice/internal/shared"
)

// Product is the engine's view of a product.
type Product struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	SKU      string `json:"sku"`
	IsActive bool   `json:"is_active"`
}

// Unit is a named unit of measure.
type Unit struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// ErrInactive indicates a master row exists but is disabled.
var ErrInactive = fmt.Errorf("%w: record is inactive", shared.ErrValidation)

// Repository reads catalog masters.
type Repository struct {
	q db.Querier
}

// NewRepository constructs Repository.
func NewRepository(q db.Querier) *Repository {
	return &Repository{q: q}
}

// GetProduct loads a product by id.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.q.QueryRow(ctx, `SELECT id, name, COALESCE(sku, ''), is_active FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.SKU, &p.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("catalog: product %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return Product{}, fmt.Errorf("catalog: get product: %w", err)
	}
	return p, nil
}

// GetUnit loads a unit by id.
func (r *Repository) GetUnit(ctx context.Context, id int64) (Unit, error) {
	var u Unit
	err := r.q.QueryRow(ctx, `SELECT id, name, is_active FROM units WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Unit{}, fmt.Errorf("catalog: unit %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return Unit{}, fmt.Errorf("catalog: get unit: %w", err)
	}
	return u, nil
}

// Reader is the lookup surface used by other packages.
type Reader interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetUnit(ctx context.Context, id int64) (Unit, error)
}

// RequireActiveProduct returns the product when it exists and is active.
func RequireActiveProduct(ctx context.Context, r Reader, id int64) (Product, error) {
	p, err := r.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if !p.IsActive {
		return Product{}, fmt.Errorf("product %d: %w", id, ErrInactive)
	}
	return p, nil
}

// RequireActiveUnit returns the unit when it exists and is active.
func RequireActiveUnit(ctx context.Context, r Reader, id int64) (Unit, error) {
	u, err := r.GetUnit(ctx, id)
	if err != nil {
		return Unit{}, err
	}
	if !u.IsActive {
		return Unit{}, fmt.Errorf("unit %d: %w", id, ErrInactive)
	}
	return u, nil
}
