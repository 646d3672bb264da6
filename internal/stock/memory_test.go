package stock

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-retail/backoffice/internal/catalog"
	"github.com/odyssey-retail/backoffice/internal/conversion"
	"github.com/odyssey-retail/backoffice/internal/shared"
)

type memoryLedger struct {
	mu      sync.Mutex
	entries []Entry
}

func (l *memoryLedger) Append(_ context.Context, e Entry) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.ID = int64(len(l.entries) + 1)
	l.entries = append(l.entries, e)
	return e.ID, nil
}

func (l *memoryLedger) SumBase(_ context.Context, productID int64) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	for _, e := range l.entries {
		if e.ProductID == productID {
			total = total.Add(e.BaseQty)
		}
	}
	return total, nil
}

func (l *memoryLedger) History(_ context.Context, productID int64, limit, offset int) ([]HistoryEntry, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var all []HistoryEntry
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].ProductID == productID {
			all = append(all, HistoryEntry{Entry: l.entries[i]})
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (l *memoryLedger) UnitTotals(_ context.Context, productID int64) ([]UnitTotal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	type key struct {
		unit int64
		typ  conversion.Type
	}
	sums := map[key]decimal.Decimal{}
	for _, e := range l.entries {
		if e.ProductID != productID {
			continue
		}
		k := key{e.UnitID, e.Type.ConversionType()}
		sums[k] = sums[k].Add(e.Qty)
	}
	out := make([]UnitTotal, 0, len(sums))
	for k, v := range sums {
		out = append(out, UnitTotal{UnitID: k.unit, Type: k.typ, Qty: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out, nil
}

func (l *memoryLedger) ProductsWithMovements(_ context.Context) ([]int64, error) {
	seen := map[int64]bool{}
	var ids []int64
	for _, e := range l.entries {
		if !seen[e.ProductID] {
			seen[e.ProductID] = true
			ids = append(ids, e.ProductID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type fakeConversions struct {
	rows []conversion.Conversion
}

func (f *fakeConversions) add(productID, unitID int64, name string, typ conversion.Type, factor string, isDefault bool) {
	f.rows = append(f.rows, conversion.Conversion{
		ID:        int64(len(f.rows) + 1),
		ProductID: productID,
		UnitID:    unitID,
		UnitName:  name,
		Type:      typ,
		Factor:    decimal.RequireFromString(factor),
		IsDefault: isDefault,
		IsActive:  true,
	})
}

func (f *fakeConversions) setFactor(productID, unitID int64, typ conversion.Type, factor string) {
	for i, c := range f.rows {
		if c.ProductID == productID && c.UnitID == unitID && c.Type == typ {
			f.rows[i].Factor = decimal.RequireFromString(factor)
		}
	}
}

func (f *fakeConversions) GetActive(_ context.Context, productID, unitID int64, typ conversion.Type) (conversion.Conversion, error) {
	for _, c := range f.rows {
		if c.ProductID == productID && c.UnitID == unitID && c.Type == typ && c.IsActive {
			return c, nil
		}
	}
	return conversion.Conversion{}, shared.ErrNotFound
}

func (f *fakeConversions) GetDefault(_ context.Context, productID int64, typ conversion.Type) (conversion.Conversion, error) {
	for _, c := range f.rows {
		if c.ProductID == productID && c.Type == typ && c.IsActive && c.IsDefault {
			return c, nil
		}
	}
	return conversion.Conversion{}, shared.ErrNotFound
}

// guardSource joins the ledger and conversions as a unit of work would.
type guardSource struct {
	*memoryLedger
	*fakeConversions
}

type allProducts struct{}

func (allProducts) GetProduct(_ context.Context, id int64) (catalog.Product, error) {
	if id == 404 {
		return catalog.Product{}, shared.ErrNotFound
	}
	return catalog.Product{ID: id, Name: "Product", IsActive: true}, nil
}

func (allProducts) GetUnit(_ context.Context, id int64) (catalog.Unit, error) {
	return catalog.Unit{ID: id, Name: "unit", IsActive: true}, nil
}

// scenarioConversions configures product 1 with pcs (factor 1, default sale)
// and box (factor 12) for both types.
func scenarioConversions() *fakeConversions {
	f := &fakeConversions{}
	f.add(1, 1, "pcs", conversion.TypeSale, "1", true)
	f.add(1, 2, "box", conversion.TypeSale, "12", false)
	f.add(1, 2, "box", conversion.TypePurchase, "12", true)
	return f
}
