package conversion

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-retail/backoffice/internal/catalog"
	"github.com/odyssey-retail/backoffice/internal/shared"
)

type memoryRepo struct {
	mu          sync.Mutex
	conversions map[int64]Conversion
	logs        []Log
	nextID      int64
	nextLogID   int64
	// products with ledger rows
	movements map[int64]bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{conversions: make(map[int64]Conversion)}
}

// WithTx works on a copy and swaps it in on success so failed callbacks leave
// no trace.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.clone()
	if err := fn(ctx, snapshot); err != nil {
		return err
	}
	r.conversions = snapshot.conversions
	r.logs = snapshot.logs
	r.nextID = snapshot.nextID
	r.nextLogID = snapshot.nextLogID
	return nil
}

func (r *memoryRepo) clone() *memoryRepo {
	c := &memoryRepo{conversions: make(map[int64]Conversion, len(r.conversions)), nextID: r.nextID, nextLogID: r.nextLogID, movements: r.movements}
	for k, v := range r.conversions {
		c.conversions[k] = v
	}
	c.logs = append([]Log(nil), r.logs...)
	return c
}

func (r *memoryRepo) GetByID(_ context.Context, id int64) (Conversion, error) {
	if c, ok := r.conversions[id]; ok {
		return c, nil
	}
	return Conversion{}, ErrNotFound
}

func (r *memoryRepo) GetActive(_ context.Context, productID, unitID int64, typ Type) (Conversion, error) {
	for _, c := range r.sorted() {
		if c.ProductID == productID && c.UnitID == unitID && c.Type == typ && c.IsActive {
			return c, nil
		}
	}
	return Conversion{}, ErrNotFound
}

func (r *memoryRepo) GetDefault(_ context.Context, productID int64, typ Type) (Conversion, error) {
	for _, c := range r.sorted() {
		if c.ProductID == productID && c.Type == typ && c.IsActive && c.IsDefault {
			return c, nil
		}
	}
	return Conversion{}, ErrNotFound
}

func (r *memoryRepo) ExistsActiveCombo(_ context.Context, productID, unitID int64, typ Type, excludeID int64) (bool, error) {
	for _, c := range r.conversions {
		if c.ProductID == productID && c.UnitID == unitID && c.Type == typ && c.IsActive && c.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) CountActive(_ context.Context, productID int64, typ Type, excludeID int64) (int, error) {
	n := 0
	for _, c := range r.conversions {
		if c.ProductID == productID && c.Type == typ && c.IsActive && c.ID != excludeID {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepo) Insert(_ context.Context, c Conversion) (int64, error) {
	r.nextID++
	c.ID = r.nextID
	c.IsDefault = false
	r.conversions[c.ID] = c
	return c.ID, nil
}

func (r *memoryRepo) Update(_ context.Context, c Conversion) error {
	cur, ok := r.conversions[c.ID]
	if !ok {
		return ErrNotFound
	}
	c.IsDefault = cur.IsDefault && c.IsActive && cur.Type == c.Type
	r.conversions[c.ID] = c
	return nil
}

func (r *memoryRepo) SetDefault(_ context.Context, productID int64, typ Type, id int64) error {
	target, ok := r.conversions[id]
	if !ok || target.ProductID != productID || target.Type != typ || !target.IsActive {
		return ErrNotFound
	}
	for k, c := range r.conversions {
		if c.ProductID == productID && c.Type == typ && c.IsActive {
			c.IsDefault = c.ID == id
			r.conversions[k] = c
		}
	}
	return nil
}

func (r *memoryRepo) UpdatePrice(_ context.Context, id int64, price decimal.Decimal, actorID int64, at time.Time) error {
	c, ok := r.conversions[id]
	if !ok {
		return ErrNotFound
	}
	c.Price = price
	c.UpdatedBy = actorID
	c.UpdatedAt = at
	r.conversions[id] = c
	return nil
}

func (r *memoryRepo) CloseOpenLog(_ context.Context, conversionID int64, at time.Time) error {
	for i := range r.logs {
		if r.logs[i].ConversionID == conversionID && r.logs[i].ValidTo == nil {
			closed := at
			r.logs[i].ValidTo = &closed
		}
	}
	return nil
}

func (r *memoryRepo) InsertLog(_ context.Context, log Log) (int64, error) {
	r.nextLogID++
	log.ID = r.nextLogID
	r.logs = append(r.logs, log)
	return log.ID, nil
}

func (r *memoryRepo) ListByProduct(_ context.Context, productID int64) ([]Conversion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Conversion
	for _, c := range r.sorted() {
		if c.ProductID == productID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListLogsByProduct(_ context.Context, productID int64) ([]Log, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Log
	for _, l := range r.logs {
		if r.conversions[l.ConversionID].ProductID == productID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memoryRepo) HasMovements(_ context.Context, productID int64) (bool, error) {
	return r.movements[productID], nil
}

func (r *memoryRepo) sorted() []Conversion {
	out := make([]Conversion, 0, len(r.conversions))
	for _, c := range r.conversions {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memoryRepo) openLogs(conversionID int64) []Log {
	var out []Log
	for _, l := range r.logs {
		if l.ConversionID == conversionID && l.ValidTo == nil {
			out = append(out, l)
		}
	}
	return out
}

type memoryCatalog struct{}

func (memoryCatalog) GetProduct(_ context.Context, id int64) (catalog.Product, error) {
	switch id {
	case 1, 2:
		return catalog.Product{ID: id, Name: "Product", IsActive: true}, nil
	case 9:
		return catalog.Product{ID: id, Name: "Retired"}, nil
	}
	return catalog.Product{}, shared.ErrNotFound
}

func (memoryCatalog) GetUnit(_ context.Context, id int64) (catalog.Unit, error) {
	names := map[int64]string{1: "pcs", 2: "box", 3: "pack", 4: "carton"}
	if name, ok := names[id]; ok {
		return catalog.Unit{ID: id, Name: name, IsActive: true}, nil
	}
	return catalog.Unit{}, shared.ErrNotFound
}

type recordingScheduler struct {
	products []int64
	reasons  []string
}

func (s *recordingScheduler) ScheduleLedgerReconcile(_ context.Context, productID int64, reason string) error {
	s.products = append(s.products, productID)
	s.reasons = append(s.reasons, reason)
	return nil
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}
