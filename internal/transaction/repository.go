package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-retail/backoffice/internal/conversion"
	"github.com/odyssey-retail/backoffice/internal/platform/db"
	"github.com/odyssey-retail/backoffice/internal/shared"
	"github.com/odyssey-retail/backoffice/internal/stock"
)

// TxRepository exposes everything the engine touches inside one unit of work:
// its own tables plus the registry and ledger bound to the same transaction.
type TxRepository interface {
	conversion.Reader
	conversion.PriceWriter
	stock.Store
	LockProducts(ctx context.Context, productIDs []int64) error
	NextSequence(ctx context.Context, typ Type, day time.Time) (int64, error)
	InsertTransaction(ctx context.Context, t Transaction) (int64, error)
	UpdateTransaction(ctx context.Context, t Transaction) error
	GetTransactionForUpdate(ctx context.Context, id int64) (Transaction, error)
	ListItems(ctx context.Context, transactionID int64) ([]Item, error)
	DeleteItems(ctx context.Context, transactionID int64) error
	InsertItem(ctx context.Context, item Item) (int64, error)
}

// Repository persists transactions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx          pgx.Tx
	conversions conversion.Store
	ledger      stock.Store
}

// WithTx executes the callback inside a read-committed transaction. Statements
// issued after LockProducts must observe movements committed by the previous
// lock holder, which a repeatable-read snapshot taken before the lock would hide.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxIsolation(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{
			tx:          tx,
			conversions: conversion.NewStore(tx),
			ledger:      stock.NewStore(tx),
		})
	})
}

const headerColumns = `
	t.id, t.number, t.type, t.date, COALESCE(t.description, ''), t.total, t.amount_paid,
	COALESCE(t.payment_method, ''), COALESCE(t.created_by, 0), COALESCE(t.updated_by, 0),
	t.created_at, t.updated_at`

func scanHeader(row pgx.Row) (Transaction, error) {
	var t Transaction
	var typ string
	err := row.Scan(&t.ID, &t.Number, &typ, &t.Date, &t.Description, &t.Total, &t.AmountPaid,
		&t.PaymentMethod, &t.CreatedBy, &t.UpdatedBy, &t.CreatedAt, &t.UpdatedAt)
	t.Type = Type(typ)
	return t, err
}

// Get loads a transaction with its items.
func (r *Repository) Get(ctx context.Context, id int64) (Transaction, error) {
	t, err := scanHeader(r.pool.QueryRow(ctx, `SELECT `+headerColumns+` FROM transactions t WHERE t.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction: get: %w", err)
	}
	items, err := listItems(ctx, r.pool, id)
	if err != nil {
		return Transaction{}, err
	}
	t.Items = items
	return t, nil
}

// List returns headers matching filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Transaction, int, error) {
	where := []string{"t.type = $1"}
	args := []any{string(filter.Type)}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf("t.date >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where = append(where, fmt.Sprintf("t.date <= $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions t WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("transaction: count: %w", err)
	}
	page, limit := shared.NormalizePage(filter.Page, filter.Limit)
	args = append(args, limit, shared.Offset(page, limit))
	query := fmt.Sprintf(`SELECT %s FROM transactions t WHERE %s ORDER BY t.date DESC, t.id DESC LIMIT $%d OFFSET $%d`,
		headerColumns, clause, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("transaction: list: %w", err)
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanHeader(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func listItems(ctx context.Context, q db.Querier, transactionID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `
		SELECT i.id, i.transaction_id, i.product_id, i.unit_id, COALESCE(u.name, ''), i.qty, i.unit_factor,
			i.unit_price, i.subtotal, COALESCE(i.description, '')
		FROM transaction_items i
		LEFT JOIN units u ON u.id = i.unit_id
		WHERE i.transaction_id = $1
		ORDER BY i.id`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("transaction: items: %w", err)
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.TransactionID, &it.ProductID, &it.UnitID, &it.UnitName, &it.Qty, &it.UnitFactor,
			&it.UnitPrice, &it.Subtotal, &it.Description); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *txRepository) GetActive(ctx context.Context, productID, unitID int64, typ conversion.Type) (conversion.Conversion, error) {
	return r.conversions.GetActive(ctx, productID, unitID, typ)
}

func (r *txRepository) GetDefault(ctx context.Context, productID int64, typ conversion.Type) (conversion.Conversion, error) {
	return r.conversions.GetDefault(ctx, productID, typ)
}

func (r *txRepository) UpdatePrice(ctx context.Context, id int64, price decimal.Decimal, actorID int64, at time.Time) error {
	return r.conversions.UpdatePrice(ctx, id, price, actorID, at)
}

func (r *txRepository) CloseOpenLog(ctx context.Context, conversionID int64, at time.Time) error {
	return r.conversions.CloseOpenLog(ctx, conversionID, at)
}

func (r *txRepository) InsertLog(ctx context.Context, log conversion.Log) (int64, error) {
	return r.conversions.InsertLog(ctx, log)
}

func (r *txRepository) Append(ctx context.Context, entry stock.Entry) (int64, error) {
	return r.ledger.Append(ctx, entry)
}

func (r *txRepository) SumBase(ctx context.Context, productID int64) (decimal.Decimal, error) {
	return r.ledger.SumBase(ctx, productID)
}

// LockProducts takes one advisory lock per product in ascending key order, held
// until the transaction ends.
func (r *txRepository) LockProducts(ctx context.Context, productIDs []int64) error {
	for _, key := range shared.StockLockKeys(productIDs) {
		if err := db.AdvisoryXactLock(ctx, r.tx, shared.StockLockNamespace, key); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) NextSequence(ctx context.Context, typ Type, day time.Time) (int64, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO transaction_sequences (type, day, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (type, day) DO UPDATE SET last_value = transaction_sequences.last_value + 1
		RETURNING last_value`, string(typ), time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("transaction: next sequence: %w", err)
	}
	return seq, nil
}

func (r *txRepository) InsertTransaction(ctx context.Context, t Transaction) (int64, error) {
	query := `
		INSERT INTO transactions (
			number, type, date, description, total, amount_paid, payment_method,
			created_by, updated_by, created_at, updated_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8, $8, $9, $9)
		RETURNING id`
	var id int64
	err := r.tx.QueryRow(ctx, query,
		t.Number, string(t.Type), t.Date, t.Description, t.Total, t.AmountPaid, t.PaymentMethod,
		t.CreatedBy, t.CreatedAt,
	).Scan(&id)
	if db.IsUniqueViolation(err) {
		return 0, fmt.Errorf("transaction: number %s: %w", t.Number, shared.ErrDuplicate)
	}
	return id, err
}

func (r *txRepository) UpdateTransaction(ctx context.Context, t Transaction) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE transactions
		SET date = $2, description = NULLIF($3, ''), total = $4, amount_paid = $5,
			payment_method = NULLIF($6, ''), updated_by = $7, updated_at = $8
		WHERE id = $1`,
		t.ID, t.Date, t.Description, t.Total, t.AmountPaid, t.PaymentMethod, t.UpdatedBy, t.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) GetTransactionForUpdate(ctx context.Context, id int64) (Transaction, error) {
	t, err := scanHeader(r.tx.QueryRow(ctx, `SELECT `+headerColumns+` FROM transactions t WHERE t.id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	return t, err
}

func (r *txRepository) ListItems(ctx context.Context, transactionID int64) ([]Item, error) {
	return listItems(ctx, r.tx, transactionID)
}

func (r *txRepository) DeleteItems(ctx context.Context, transactionID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM transaction_items WHERE transaction_id = $1`, transactionID)
	return err
}

func (r *txRepository) InsertItem(ctx context.Context, it Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO transaction_items (
			transaction_id, product_id, unit_id, qty, unit_factor, unit_price, subtotal, description
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
		RETURNING id`,
		it.TransactionID, it.ProductID, it.UnitID, it.Qty, it.UnitFactor, it.UnitPrice, it.Subtotal, it.Description,
	).Scan(&id)
	return id, err
}
