package conversion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-retail/backoffice/internal/platform/db"
)

const conversionColumns = `
	c.id, c.product_id, c.unit_id, COALESCE(u.name, ''), c.type, c.unit_qty, c.unit_price,
	c.is_default, c.is_active, COALESCE(c.note, ''), COALESCE(c.created_by, 0), COALESCE(c.updated_by, 0),
	c.created_at, c.updated_at`

const txAttempts = 3

// Repository persists conversions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	*pgStore
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, pgStore: &pgStore{q: pool}}
}

// WithTx runs fn inside a repeatable-read transaction, retried on
// serialization failures.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	err := db.WithTxRetry(ctx, r.pool, txAttempts, func(tx pgx.Tx) error {
		return fn(ctx, NewStore(tx))
	})
	if db.IsExclusionViolation(err) {
		return ErrDefaultConflict
	}
	return err
}

// NewStore binds the registry queries to q, typically a pgx.Tx owned by the
// caller's unit of work.
func NewStore(q db.Querier) Store {
	return &pgStore{q: q}
}

type pgStore struct {
	q db.Querier
}

func scanConversion(row pgx.Row) (Conversion, error) {
	var c Conversion
	var typ string
	err := row.Scan(&c.ID, &c.ProductID, &c.UnitID, &c.UnitName, &typ, &c.Factor, &c.Price,
		&c.IsDefault, &c.IsActive, &c.Note, &c.CreatedBy, &c.UpdatedBy, &c.CreatedAt, &c.UpdatedAt)
	c.Type = Type(typ)
	return c, err
}

func (s *pgStore) one(ctx context.Context, where string, args ...any) (Conversion, error) {
	query := `SELECT ` + conversionColumns + `
		FROM conversions c
		LEFT JOIN units u ON u.id = c.unit_id
		WHERE ` + where + ` LIMIT 1`
	c, err := scanConversion(s.q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversion{}, ErrNotFound
	}
	if err != nil {
		return Conversion{}, fmt.Errorf("conversion: query: %w", err)
	}
	return c, nil
}

func (s *pgStore) GetByID(ctx context.Context, id int64) (Conversion, error) {
	return s.one(ctx, `c.id = $1`, id)
}

func (s *pgStore) GetActive(ctx context.Context, productID, unitID int64, typ Type) (Conversion, error) {
	return s.one(ctx, `c.product_id = $1 AND c.unit_id = $2 AND c.type = $3 AND c.is_active`, productID, unitID, string(typ))
}

func (s *pgStore) GetDefault(ctx context.Context, productID int64, typ Type) (Conversion, error) {
	return s.one(ctx, `c.product_id = $1 AND c.type = $2 AND c.is_active AND c.is_default`, productID, string(typ))
}

func (s *pgStore) ExistsActiveCombo(ctx context.Context, productID, unitID int64, typ Type, excludeID int64) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conversions
			WHERE product_id = $1 AND unit_id = $2 AND type = $3 AND is_active AND id <> $4
		)`, productID, unitID, string(typ), excludeID).Scan(&exists)
	return exists, err
}

func (s *pgStore) CountActive(ctx context.Context, productID int64, typ Type, excludeID int64) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM conversions
		WHERE product_id = $1 AND type = $2 AND is_active AND id <> $3`, productID, string(typ), excludeID).Scan(&n)
	return n, err
}

func (s *pgStore) HasMovements(ctx context.Context, productID int64) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stocks WHERE product_id = $1)`, productID).Scan(&exists)
	return exists, err
}

func (s *pgStore) Insert(ctx context.Context, c Conversion) (int64, error) {
	query := `
		INSERT INTO conversions (
			product_id, unit_id, type, unit_qty, unit_price, is_default, is_active,
			note, created_by, updated_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, FALSE, $6, NULLIF($7, ''), $8, $8, $9, $9)
		RETURNING id`
	var id int64
	err := s.q.QueryRow(ctx, query,
		c.ProductID, c.UnitID, string(c.Type), c.Factor, c.Price, c.IsActive,
		c.Note, c.CreatedBy, c.CreatedAt,
	).Scan(&id)
	if db.IsUniqueViolation(err) {
		return 0, ErrDuplicateCombo
	}
	return id, err
}

func (s *pgStore) Update(ctx context.Context, c Conversion) error {
	query := `
		UPDATE conversions
		SET unit_id = $2, type = $3, unit_qty = $4, unit_price = $5,
			is_active = $6, is_default = is_default AND $6 AND type = $3,
			note = NULLIF($7, ''), updated_by = $8, updated_at = $9
		WHERE id = $1`
	tag, err := s.q.Exec(ctx, query,
		c.ID, c.UnitID, string(c.Type), c.Factor, c.Price, c.IsActive, c.Note, c.UpdatedBy, c.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateCombo
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDefault flips is_default for every active row of (product, type) in one
// statement so readers never observe zero or two defaults.
func (s *pgStore) SetDefault(ctx context.Context, productID int64, typ Type, id int64) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE conversions
		SET is_default = (id = $3)
		WHERE product_id = $1 AND type = $2 AND is_active
			AND EXISTS (
				SELECT 1 FROM conversions t
				WHERE t.id = $3 AND t.product_id = $1 AND t.type = $2 AND t.is_active
			)`, productID, string(typ), id)
	if err != nil {
		return fmt.Errorf("conversion: set default: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) UpdatePrice(ctx context.Context, id int64, price decimal.Decimal, actorID int64, at time.Time) error {
	tag, err := s.q.Exec(ctx, `UPDATE conversions SET unit_price = $2, updated_by = $3, updated_at = $4 WHERE id = $1`, id, price, actorID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) CloseOpenLog(ctx context.Context, conversionID int64, at time.Time) error {
	_, err := s.q.Exec(ctx, `UPDATE conversion_logs SET valid_to = $2 WHERE conversion_id = $1 AND valid_to IS NULL`, conversionID, at)
	return err
}

func (s *pgStore) InsertLog(ctx context.Context, log Log) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO conversion_logs (conversion_id, old_price, new_price, note, valid_from, created_by)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		RETURNING id`,
		log.ConversionID, log.OldPrice, log.NewPrice, log.Note, log.ValidFrom, log.CreatedBy,
	).Scan(&id)
	return id, err
}

func (s *pgStore) ListByProduct(ctx context.Context, productID int64) ([]Conversion, error) {
	rows, err := s.q.Query(ctx, `SELECT `+conversionColumns+`
		FROM conversions c
		LEFT JOIN units u ON u.id = c.unit_id
		WHERE c.product_id = $1
		ORDER BY c.type, c.is_active DESC, c.unit_qty, c.id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Conversion
	for rows.Next() {
		c, err := scanConversion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *pgStore) ListLogsByProduct(ctx context.Context, productID int64) ([]Log, error) {
	rows, err := s.q.Query(ctx, `
		SELECT l.id, l.conversion_id, l.old_price, l.new_price, COALESCE(l.note, ''),
			l.valid_from, l.valid_to, COALESCE(l.created_by, 0)
		FROM conversion_logs l
		JOIN conversions c ON c.id = l.conversion_id
		WHERE c.product_id = $1
		ORDER BY l.conversion_id, l.valid_from DESC, l.id DESC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Log
	for rows.Next() {
		var l Log
		if err := rows.Scan(&l.ID, &l.ConversionID, &l.OldPrice, &l.NewPrice, &l.Note, &l.ValidFrom, &l.ValidTo, &l.CreatedBy); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
