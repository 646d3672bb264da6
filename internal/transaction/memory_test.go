package transaction

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-retail/backoffice/internal/conversion"
	"github.com/odyssey-retail/backoffice/internal/stock"
)

type seqKey struct {
	typ Type
	day string
}

type memoryState struct {
	conversions  map[int64]conversion.Conversion
	logs         []conversion.Log
	entries      []stock.Entry
	transactions map[int64]Transaction
	items        map[int64][]Item
	sequences    map[seqKey]int64
	locks        [][]int64
	nextID       int64
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		conversions:  make(map[int64]conversion.Conversion, len(s.conversions)),
		logs:         append([]conversion.Log(nil), s.logs...),
		entries:      append([]stock.Entry(nil), s.entries...),
		transactions: make(map[int64]Transaction, len(s.transactions)),
		items:        make(map[int64][]Item, len(s.items)),
		sequences:    make(map[seqKey]int64, len(s.sequences)),
		locks:        append([][]int64(nil), s.locks...),
		nextID:       s.nextID,
	}
	for k, v := range s.conversions {
		c.conversions[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.items {
		c.items[k] = append([]Item(nil), v...)
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	return c
}

type memoryRepo struct {
	mu    sync.Mutex
	state *memoryState
	fail  error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memoryState{
		conversions:  map[int64]conversion.Conversion{},
		transactions: map[int64]Transaction{},
		items:        map[int64][]Item{},
		sequences:    map[seqKey]int64{},
	}}
}

// WithTx works on a copy and swaps it in on success so failed callbacks leave
// no trace.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.state.clone()
	if err := fn(ctx, &memoryTx{state: snapshot, fail: r.fail}); err != nil {
		return err
	}
	r.state = snapshot
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.state.transactions[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	t.Items = append([]Item(nil), r.state.items[id]...)
	return t, nil
}

func (r *memoryRepo) List(_ context.Context, filter ListFilter) ([]Transaction, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []Transaction
	for _, t := range r.state.transactions {
		if t.Type != filter.Type {
			continue
		}
		if !filter.From.IsZero() && t.Date.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && t.Date.After(filter.To) {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	start := (filter.Page - 1) * filter.Limit
	if start > len(matched) {
		start = len(matched)
	}
	end := start + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

func (r *memoryRepo) addConversion(c conversion.Conversion) conversion.Conversion {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.nextID++
	c.ID = r.state.nextID
	c.IsActive = true
	r.state.conversions[c.ID] = c
	r.state.nextID++
	r.state.logs = append(r.state.logs, conversion.Log{ID: r.state.nextID, ConversionID: c.ID, NewPrice: c.Price, ValidFrom: time.Unix(0, 0)})
	return c
}

func (r *memoryRepo) conversionByID(id int64) conversion.Conversion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.conversions[id]
}

func (r *memoryRepo) logsFor(conversionID int64) []conversion.Log {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []conversion.Log
	for _, l := range r.state.logs {
		if l.ConversionID == conversionID {
			out = append(out, l)
		}
	}
	return out
}

func (r *memoryRepo) movements(productID int64) []stock.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []stock.Entry
	for _, e := range r.state.entries {
		if e.ProductID == productID {
			out = append(out, e)
		}
	}
	return out
}

func (r *memoryRepo) locks() [][]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]int64(nil), r.state.locks...)
}

// ledger exposes committed state to stock.Current.
func (r *memoryRepo) ledger() *memoryTx {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &memoryTx{state: r.state.clone()}
}

type memoryTx struct {
	state *memoryState
	fail  error
}

func (t *memoryTx) GetActive(_ context.Context, productID, unitID int64, typ conversion.Type) (conversion.Conversion, error) {
	for _, c := range t.sortedConversions() {
		if c.ProductID == productID && c.UnitID == unitID && c.Type == typ && c.IsActive {
			return c, nil
		}
	}
	return conversion.Conversion{}, conversion.ErrNotFound
}

func (t *memoryTx) GetDefault(_ context.Context, productID int64, typ conversion.Type) (conversion.Conversion, error) {
	for _, c := range t.sortedConversions() {
		if c.ProductID == productID && c.Type == typ && c.IsActive && c.IsDefault {
			return c, nil
		}
	}
	return conversion.Conversion{}, conversion.ErrNotFound
}

func (t *memoryTx) sortedConversions() []conversion.Conversion {
	out := make([]conversion.Conversion, 0, len(t.state.conversions))
	for _, c := range t.state.conversions {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *memoryTx) UpdatePrice(_ context.Context, id int64, price decimal.Decimal, actorID int64, at time.Time) error {
	c, ok := t.state.conversions[id]
	if !ok {
		return conversion.ErrNotFound
	}
	c.Price = price
	c.UpdatedBy = actorID
	c.UpdatedAt = at
	t.state.conversions[id] = c
	return nil
}

func (t *memoryTx) CloseOpenLog(_ context.Context, conversionID int64, at time.Time) error {
	for i := range t.state.logs {
		if t.state.logs[i].ConversionID == conversionID && t.state.logs[i].ValidTo == nil {
			closed := at
			t.state.logs[i].ValidTo = &closed
		}
	}
	return nil
}

func (t *memoryTx) InsertLog(_ context.Context, log conversion.Log) (int64, error) {
	t.state.nextID++
	log.ID = t.state.nextID
	t.state.logs = append(t.state.logs, log)
	return log.ID, nil
}

func (t *memoryTx) Append(_ context.Context, e stock.Entry) (int64, error) {
	if t.fail != nil {
		return 0, t.fail
	}
	t.state.nextID++
	e.ID = t.state.nextID
	t.state.entries = append(t.state.entries, e)
	return e.ID, nil
}

func (t *memoryTx) SumBase(_ context.Context, productID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, e := range t.state.entries {
		if e.ProductID == productID {
			total = total.Add(e.BaseQty)
		}
	}
	return total, nil
}

func (t *memoryTx) LockProducts(_ context.Context, productIDs []int64) error {
	t.state.locks = append(t.state.locks, append([]int64(nil), productIDs...))
	return nil
}

func (t *memoryTx) NextSequence(_ context.Context, typ Type, day time.Time) (int64, error) {
	k := seqKey{typ: typ, day: day.Format("20060102")}
	t.state.sequences[k]++
	return t.state.sequences[k], nil
}

func (t *memoryTx) InsertTransaction(_ context.Context, tr Transaction) (int64, error) {
	t.state.nextID++
	tr.ID = t.state.nextID
	tr.Items = nil
	t.state.transactions[tr.ID] = tr
	return tr.ID, nil
}

func (t *memoryTx) UpdateTransaction(_ context.Context, tr Transaction) error {
	if _, ok := t.state.transactions[tr.ID]; !ok {
		return ErrNotFound
	}
	tr.Items = nil
	t.state.transactions[tr.ID] = tr
	return nil
}

func (t *memoryTx) GetTransactionForUpdate(_ context.Context, id int64) (Transaction, error) {
	tr, ok := t.state.transactions[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return tr, nil
}

func (t *memoryTx) ListItems(_ context.Context, transactionID int64) ([]Item, error) {
	return append([]Item(nil), t.state.items[transactionID]...), nil
}

func (t *memoryTx) DeleteItems(_ context.Context, transactionID int64) error {
	delete(t.state.items, transactionID)
	return nil
}

func (t *memoryTx) InsertItem(_ context.Context, it Item) (int64, error) {
	t.state.nextID++
	it.ID = t.state.nextID
	t.state.items[it.TransactionID] = append(t.state.items[it.TransactionID], it)
	return it.ID, nil
}

type recordingMetrics struct {
	posted   []string
	rejected []string
}

func (m *recordingMetrics) TransactionPosted(kind, operation string) {
	m.posted = append(m.posted, kind+":"+operation)
}

func (m *recordingMetrics) GuardRejected(kind string) {
	m.rejected = append(m.rejected, kind)
}

const (
	productP int64 = 1
	productQ int64 = 2
	unitPcs  int64 = 1
	unitBox  int64 = 2
)

type fixture struct {
	repo        *memoryRepo
	pcsSale     conversion.Conversion
	boxSale     conversion.Conversion
	boxPurchase conversion.Conversion
	qPcsSale    conversion.Conversion
}

// newFixture configures product P with pcs (1, default) and box (12) sale
// units and a default box purchase unit, and product Q with pcs only.
func newFixture() fixture {
	repo := newMemoryRepo()
	f := fixture{repo: repo}
	f.pcsSale = repo.addConversion(conversion.Conversion{
		ProductID: productP, UnitID: unitPcs, UnitName: "pcs", Type: conversion.TypeSale,
		Factor: decimal.NewFromInt(1), Price: decimal.NewFromInt(1000), IsDefault: true,
	})
	f.boxSale = repo.addConversion(conversion.Conversion{
		ProductID: productP, UnitID: unitBox, UnitName: "box", Type: conversion.TypeSale,
		Factor: decimal.NewFromInt(12), Price: decimal.NewFromInt(11000),
	})
	f.boxPurchase = repo.addConversion(conversion.Conversion{
		ProductID: productP, UnitID: unitBox, UnitName: "box", Type: conversion.TypePurchase,
		Factor: decimal.NewFromInt(12), Price: decimal.NewFromInt(9000), IsDefault: true,
	})
	f.qPcsSale = repo.addConversion(conversion.Conversion{
		ProductID: productQ, UnitID: unitPcs, UnitName: "pcs", Type: conversion.TypeSale,
		Factor: decimal.NewFromInt(1), Price: decimal.NewFromInt(500), IsDefault: true,
	})
	return f
}
