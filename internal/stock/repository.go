package stock

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-retail/backoffice/internal/conversion"
	"github.com/odyssey-retail/backoffice/internal/platform/db"
)

// Repository persists ledger movements in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	*pgStore
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, pgStore: &pgStore{q: pool}}
}

// NewStore binds ledger queries to q, typically the caller's pgx.Tx.
func NewStore(q db.Querier) Store {
	return &pgStore{q: q}
}

type pgStore struct {
	q db.Querier
}

func (s *pgStore) Append(ctx context.Context, e Entry) (int64, error) {
	query := `
		INSERT INTO stocks (
			product_id, transaction_id, type, qty, unit_id, unit_factor, base_qty,
			is_reversal, description, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)
		RETURNING id`
	var id int64
	err := s.q.QueryRow(ctx, query,
		e.ProductID, e.TransactionID, string(e.Type), e.Qty, e.UnitID, e.UnitFactor, e.BaseQty,
		e.IsReversal, e.Description, e.CreatedBy, e.CreatedAt,
	).Scan(&id)
	return id, err
}

func (s *pgStore) SumBase(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.q.QueryRow(ctx, `SELECT COALESCE(SUM(base_qty), 0) FROM stocks WHERE product_id = $1`, productID).Scan(&total)
	return total, err
}

// History lists movements newest first with unit, creator and transaction names.
func (r *Repository) History(ctx context.Context, productID int64, limit, offset int) ([]HistoryEntry, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stocks WHERE product_id = $1`, productID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("stock: count history: %w", err)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.product_id, s.transaction_id, s.type, s.qty, s.unit_id, s.unit_factor, s.base_qty,
			s.is_reversal, COALESCE(s.description, ''), COALESCE(s.created_by, 0), s.created_at,
			COALESCE(u.name, ''), COALESCE(us.name, ''), COALESCE(t.number, '')
		FROM stocks s
		LEFT JOIN units u ON u.id = s.unit_id
		LEFT JOIN users us ON us.id = s.created_by
		LEFT JOIN transactions t ON t.id = s.transaction_id
		WHERE s.product_id = $1
		ORDER BY s.created_at DESC, s.id DESC
		LIMIT $2 OFFSET $3`, productID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("stock: history: %w", err)
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var typ string
		if err := rows.Scan(&h.ID, &h.ProductID, &h.TransactionID, &typ, &h.Qty, &h.UnitID, &h.UnitFactor, &h.BaseQty,
			&h.IsReversal, &h.Description, &h.CreatedBy, &h.CreatedAt,
			&h.UnitName, &h.CreatorName, &h.TransactionNumber); err != nil {
			return nil, 0, err
		}
		h.Type = MovementType(typ)
		out = append(out, h)
	}
	return out, total, rows.Err()
}

// UnitTotals sums raw quantities per unit and the conversion type of the movement.
func (r *Repository) UnitTotals(ctx context.Context, productID int64) ([]UnitTotal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT unit_id, CASE WHEN type = 'purchase' THEN 'purchase' ELSE 'sale' END AS conv_type, SUM(qty)
		FROM stocks
		WHERE product_id = $1
		GROUP BY unit_id, conv_type
		ORDER BY unit_id, conv_type`, productID)
	if err != nil {
		return nil, fmt.Errorf("stock: unit totals: %w", err)
	}
	defer rows.Close()
	var out []UnitTotal
	for rows.Next() {
		var t UnitTotal
		var typ string
		if err := rows.Scan(&t.UnitID, &typ, &t.Qty); err != nil {
			return nil, err
		}
		t.Type = conversion.Type(typ)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ProductsWithMovements lists every product id present in the ledger.
func (r *Repository) ProductsWithMovements(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT product_id FROM stocks ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
