package transaction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-retail/backoffice/internal/conversion"
	"github.com/odyssey-retail/backoffice/internal/shared"
	"github.com/odyssey-retail/backoffice/internal/stock"
)

var (
	wib       = time.FixedZone("WIB", 7*3600)
	fixedTime = time.Date(2025, 3, 9, 18, 30, 0, 0, time.UTC)
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, d(want).Equal(got), "want %s, got %s", want, got.String())
}

func newTestService(repo *memoryRepo, idem IdempotencyPort, metrics MetricsPort) *Service {
	svc := NewService(repo, nil, idem, metrics, ServiceConfig{Location: wib}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return fixedTime }
	return svc
}

func currentStock(t *testing.T, repo *memoryRepo, productID int64) decimal.Decimal {
	t.Helper()
	ledger := repo.ledger()
	level, err := stock.Current(context.Background(), ledger, ledger, productID)
	require.NoError(t, err)
	return level.Quantity
}

func purchase(productID, unitID int64, qty string) CreateInput {
	return CreateInput{Type: TypePurchase, Lines: []Line{{ProductID: productID, UnitID: unitID, Qty: d(qty)}}, ActorID: 7}
}

func sale(productID, unitID int64, qty, paid string) CreateInput {
	return CreateInput{
		Type:    TypeSale,
		Lines:   []Line{{ProductID: productID, UnitID: unitID, Qty: d(qty)}},
		Payment: &Payment{AmountPaid: d(paid), Method: "cash"},
		ActorID: 7,
	}
}

func TestPurchaseBoxesThenSellPieces(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := newTestService(f.repo, nil, nil)

	p, err := svc.Create(ctx, purchase(productP, unitBox, "2"))
	require.NoError(t, err)
	requireDecimal(t, "18000", p.Total)
	requireDecimal(t, "24", currentStock(t, f.repo, productP))

	s, err := svc.Create(ctx, sale(productP, unitPcs, "6", "10000"))
	require.NoError(t, err)
	requireDecimal(t, "6000", s.Total)
	requireDecimal(t, "4000", s.Change)
	requireDecimal(t, "18", currentStock(t, f.repo, productP))

	moves := f.repo.movements(productP)
	require.Len(t, moves, 2)
	requireDecimal(t, "24", moves[0].BaseQty)
	requireDecimal(t, "-6", moves[1].BaseQty)
	require.Equal(t, stock.MovementSale, moves[1].Type)
	require.Equal(t, s.ID, moves[1].TransactionID)
}

func TestSaleRejectsInsufficientPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := newTestService(f.repo, nil, nil)
	_, err := svc.Create(ctx, purchase(productP, unitBox, "1"))
	require.NoError(t, err)

	_, err = svc.Create(ctx, sale(productP, unitPcs, "10", "8000"))
	require.ErrorIs(t, err, shared.ErrInsufficientPayment)
	var pay *InsufficientPaymentError
	require.ErrorAs(t, err, &pay)
	requireDecimal(t, "10000", pay.Total)
	requireDecimal(t, "2000", pay.Shortfall)
	require.Len(t, f.repo.movements(productP), 1)
	requireDecimal(t, "12", currentStock(t, f.repo, productP))
}

func TestUpdateSaleReversesThenReposts(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := newTestService(f.repo, nil, nil)
	_, err := svc.Create(ctx, purchase(productP, unitBox, "1"))
	require.NoError(t, err)
	s, err := svc.Create(ctx, sale(productP, unitPcs, "6", "6000"))
	require.NoError(t, err)
	requireDecimal(t, "6", currentStock(t, f.repo, productP))

	updated, err := svc.Update(ctx, UpdateInput{
		ID:      s.ID,
		Type:    TypeSale,
		Lines:   []Line{{ProductID: productP, UnitID: unitPcs, Qty: d("4")}},
		Payment: &Payment{AmountPaid: d("5000")},
		ActorID: 8,
	})
	require.NoError(t, err)
	require.Equal(t, s.ID, updated.ID)
	require.Equal(t, s.Number, updated.Number)
	requireDecimal(t, "4000", updated.Total)
	requireDecimal(t, "1000", updated.Change)
	require.Len(t, updated.Items, 1)

	moves := f.repo.movements(productP)
	require.Len(t, moves, 4)
	require.True(t, moves[2].IsReversal)
	requireDecimal(t, "6", moves[2].BaseQty)
	require.False(t, moves[3].IsReversal)
	requireDecimal(t, "-4", moves[3].BaseQty)
	requireDecimal(t, "8", currentStock(t, f.repo, productP))

	got, err := svc.Get(ctx, TypeSale, s.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	requireDecimal(t, "4", got.Items[0].Qty)
	require.Equal(t, int64(8), got.UpdatedBy)
}

func TestUpdateWithSameLinesLeavesStockUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := newTestService(f.repo, nil, nil)
	p, err := svc.Create(ctx, purchase(productP, unitBox, "3"))
	require.NoError(t, err)
	before := currentStock(t, f.repo, productP)

	_, err = svc.Update(ctx, UpdateInput{ID: p.ID, Type: TypePurchase, Lines: p.Lines(), ActorID: 7})
	require.NoError(t, err)
	require.True(t, before.Equal(currentStock(t, f.repo, productP)))
	require.Len(t, f.repo.movements(productP), 3)
}

func TestUpdatePurchaseGuardsReversal(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.repo.addConversion(conversion.Conversion{
		ProductID: productP, UnitID: unitPcs, UnitName: "pcs", Type: conversion.TypePurchase,
		Factor: decimal.NewFromInt(1), Price: decimal.NewFromInt(800),
	})
	metrics := &recordingMetrics{}
	svc := newTestService(f.repo, nil, metrics)
	p, err := svc.Create(ctx, purchase(productP, unitBox, "1"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, sale(productP, unitPcs, "10", "10000"))
	require.NoError(t, err)

	_, err = svc.Update(ctx, UpdateInput{ID: p.ID, Type: TypePurchase, Lines: []Line{{ProductID: productP, UnitID: unitPcs, Qty: d("5")}}})
	var neg *stock.NegativeStockError
	require.ErrorAs(t, err, &neg)
	requireDecimal(t, "2", neg.Current)
	requireDecimal(t, "12", neg.Old)
	requireDecimal(t, "5", neg.New)
	requireDecimal(t, "-5", neg.Resulting)
	require.Equal(t, []string{"purchase"}, metrics.rejected)
	requireDecimal(t, "2", currentStock(t, f.repo, productP))
}

func TestUpdateRejectsTypeMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := newTestService(f.repo, nil, nil)
	p, err := svc.Create(ctx, purchase(productP, unitBox, "1"))
	require.NoError(t, err)

	_, err = svc.Update(ctx, UpdateInput{ID: p.ID, Type: TypeAdjustment, Lines: []Line{{ProductID: productP, UnitID: unitPcs, Qty: d("1")}}})
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.Get(ctx, TypeSale, p.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAdjustmentGuard(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	metrics := &recordingMetrics{}
	svc := newTestService(f.repo, nil, metrics)
	_, err := svc.Create(ctx, CreateInput{Type: TypeAdjustment, Lines: []Line{{ProductID: productP, UnitID: unitPcs, Qty: d("3")}}})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateInput{Type: TypeAdjustment, Lines: []Line{{ProductID: productP, UnitID: unitPcs, Qty: d("-5")}}})
	require.ErrorIs(t, err, shared.ErrNegativeStock)
	var neg *stock.NegativeStockError
	require.ErrorAs(t, err, &neg)
	requireDecimal(t, "3", neg.Current)
	requireDecimal(t, "-5", neg.Delta)
	requireDecimal(t, "-2", neg.Resulting)
	require.Equal(t, []string{"adjustment"}, metrics.rejected)
	require.Equal(t, []string{"adjustment:create"}, metrics.posted)

	adj, err := svc.Create(ctx, CreateInput{Type: TypeAdjustment, Lines: []Line{{ProductID: productP, UnitID: unitPcs, Qty: d("-3")}}})
	require.NoError(t, err)
	requireDecimal(t, "0", adj.Total)
	requireDecimal(t, "0", currentStock(t, f.repo, productP))
}

func TestNumberingPerTypeAndBusinessDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := newTestService(f.repo, nil, nil)

	first, err := svc.Create(ctx, purchase(productP, unitBox, "1"))
	require.NoError(t, err)
	second, err := svc.Create(ctx, purchase(productP, unitBox, "1"))
	require.NoError(t, err)
	s, err := svc.Create(ctx, sale(productP, unitPcs, "1", "1000"))
	require.NoError(t, err)

	require.Equal(t, "PUR-20250310-0001", first.Number)
	require.Equal(t, "PUR-20250310-0002", second.Number)
	require.Equal(t, "SAL-20250310-0001", s.Number)
	require.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), first.Date)

	svc.now = func() time.Time { return fixedTime.Add(24 * time.Hour) }
	next, err := svc.Create(ctx, purchase(productP, unitBox, "1"))
	require.NoError(t, err)
	require.Equal(t, "PUR-20250311-0001", next.Number)
}

func TestCreateReportsEveryUnconfiguredLine(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := newTestService(f.repo, nil, nil)

	_, err := svc.Create(ctx, CreateInput{
		Type: TypeSale,
		Lines: []Line{
			{ProductID: productP, UnitID: unitPcs, Qty: d("1")},
			{ProductID: productP, UnitID: 3, Qty: d("1")},
			{ProductID: productQ, UnitID: unitBox, Qty: d("1")},
		},
		Payment: &Payment{AmountPaid: d("99999")},
	})
	require.ErrorIs(t, err, shared.ErrNotConfigured)
	var nc *conversion.NotConfiguredError
	require.ErrorAs(t, err, &nc)
	require.Equal(t, []conversion.Unconfigured{
		{ProductID: productP, UnitID: 3, Type: conversion.TypeSale, Line: 2},
		{ProductID: productQ, UnitID: unitBox, Type: conversion.TypeSale, Line: 3},
	}, nc.Pairs)
	require.Empty(t, f.repo.movements(productP))
}

func TestPurchasePriceUpdatesConversion(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := newTestService(f.repo, nil, nil)
	price := d("9500")

	p, err := svc.Create(ctx, CreateInput{Type: TypePurchase, Lines: []Line{{ProductID: productP, UnitID: unitBox, Qty: d("2"), Price: &price}}, ActorID: 3})
	require.NoError(t, err)
	requireDecimal(t, "19000", p.Total)
	requireDecimal(t, "9500", p.Items[0].UnitPrice)

	conv := f.repo.conversionByID(f.boxPurchase.ID)
	requireDecimal(t, "9500", conv.Price)
	logs := f.repo.logsFor(f.boxPurchase.ID)
	require.Len(t, logs, 2)
	require.NotNil(t, logs[0].ValidTo)
	require.Nil(t, logs[1].ValidTo)
	requireDecimal(t, "9000", logs[1].OldPrice)
	requireDecimal(t, "9500", logs[1].NewPrice)

	_, err = svc.Create(ctx, CreateInput{Type: TypePurchase, Lines: []Line{{ProductID: productP, UnitID: unitBox, Qty: d("1"), Price: &price}}})
	require.NoError(t, err)
	require.Len(t, f.repo.logsFor(f.boxPurchase.ID), 2)
}

func TestCreateValidation(t *testing.T) {
	price := d("1")
	cases := []struct {
		name  string
		input CreateInput
		want  error
	}{
		{"unknown type", CreateInput{Type: "refund", Lines: []Line{{ProductID: 1, UnitID: 1, Qty: d("1")}}}, ErrInvalidType},
		{"no lines", CreateInput{Type: TypePurchase}, ErrNoLines},
		{"zero adjustment", CreateInput{Type: TypeAdjustment, Lines: []Line{{ProductID: 1, UnitID: 1, Qty: d("0")}}}, ErrInvalidQuantity},
		{"negative sale", sale(productP, unitPcs, "-1", "0"), ErrInvalidQuantity},
		{"sale without payment", CreateInput{Type: TypeSale, Lines: []Line{{ProductID: 1, UnitID: 1, Qty: d("1")}}}, ErrPaymentRequired},
		{"purchase with payment", CreateInput{Type: TypePurchase, Lines: []Line{{ProductID: 1, UnitID: 2, Qty: d("1")}}, Payment: &Payment{}}, ErrUnexpectedPayment},
		{"priced sale line", CreateInput{Type: TypeSale, Lines: []Line{{ProductID: 1, UnitID: 1, Qty: d("1"), Price: &price}}, Payment: &Payment{}}, ErrUnexpectedPrice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			svc := newTestService(f.repo, nil, nil)
			_, err := svc.Create(context.Background(), tc.input)
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestLocksTouchedProductsInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := newTestService(f.repo, nil, nil)
	_, err := svc.Create(ctx, CreateInput{Type: TypeAdjustment, Lines: []Line{
		{ProductID: productQ, UnitID: unitPcs, Qty: d("4")},
		{ProductID: productP, UnitID: unitPcs, Qty: d("2")},
		{ProductID: productQ, UnitID: unitPcs, Qty: d("1")},
	}})
	require.NoError(t, err)
	require.Equal(t, [][]int64{{productP, productQ}}, f.repo.locks())
	requireDecimal(t, "5", currentStock(t, f.repo, productQ))
}

func TestIdempotentCreateReturnsOriginal(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := shared.NewIdempotencyStore(client, time.Hour, time.Minute)
	f := newFixture()
	svc := newTestService(f.repo, store, nil)

	input := purchase(productP, unitBox, "1")
	input.IdempotencyKey = "req-1"
	first, err := svc.Create(ctx, input)
	require.NoError(t, err)
	again, err := svc.Create(ctx, input)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, first.Number, again.Number)
	require.Len(t, f.repo.movements(productP), 1)

	input.IdempotencyKey = "req-2"
	other, err := svc.Create(ctx, input)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, other.ID)
}

func TestFailedCreateReleasesIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := shared.NewIdempotencyStore(client, time.Hour, time.Minute)
	f := newFixture()
	svc := newTestService(f.repo, store, nil)

	f.repo.fail = errors.New("ledger unavailable")
	input := purchase(productP, unitBox, "1")
	input.IdempotencyKey = "req-1"
	_, err := svc.Create(ctx, input)
	require.Error(t, err)
	require.Empty(t, f.repo.movements(productP))

	f.repo.fail = nil
	created, err := svc.Create(ctx, input)
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.Len(t, f.repo.movements(productP), 1)
}

type flakyCompleter struct {
	IdempotencyPort
	failures int
	calls    int
}

func (f *flakyCompleter) Complete(ctx context.Context, module, key, result string) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("redis timeout")
	}
	return f.IdempotencyPort.Complete(ctx, module, key, result)
}

func TestCreateRetriesIdempotencyComplete(t *testing.T) {
	prev := completeBackoff
	completeBackoff = 0
	t.Cleanup(func() { completeBackoff = prev })

	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := &flakyCompleter{IdempotencyPort: shared.NewIdempotencyStore(client, time.Hour, time.Minute), failures: 2}
	f := newFixture()
	svc := newTestService(f.repo, store, nil)

	input := purchase(productP, unitBox, "1")
	input.IdempotencyKey = "req-1"
	first, err := svc.Create(ctx, input)
	require.NoError(t, err)
	require.Equal(t, 3, store.calls)

	again, err := svc.Create(ctx, input)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Len(t, f.repo.movements(productP), 1)

	// an unrecoverable Complete leaves only the short pending marker behind
	store.failures, store.calls = 10, 0
	input.IdempotencyKey = "req-2"
	_, err = svc.Create(ctx, input)
	require.NoError(t, err)
	require.Equal(t, completeAttempts, store.calls)
	require.Equal(t, time.Minute, mr.TTL("idempotency:transaction:purchase:req-2"))
}

func TestListPaginatesNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := newTestService(f.repo, nil, nil)
	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, purchase(productP, unitBox, "1"))
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, sale(productP, unitPcs, "1", "2000"))
	require.NoError(t, err)

	res, err := svc.List(ctx, ListFilter{Type: TypePurchase, Page: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Transactions, 2)
	require.Equal(t, 3, res.Pagination.Total)
	require.Equal(t, 2, res.Pagination.TotalPages)
	require.Equal(t, "PUR-20250310-0003", res.Transactions[0].Number)

	sales, err := svc.List(ctx, ListFilter{Type: TypeSale})
	require.NoError(t, err)
	require.Len(t, sales.Transactions, 1)
	requireDecimal(t, "1000", sales.Transactions[0].Change)

	_, err = svc.List(ctx, ListFilter{Type: TypeSale, From: fixedTime, To: fixedTime.Add(-time.Hour)})
	require.ErrorIs(t, err, shared.ErrValidation)
}
