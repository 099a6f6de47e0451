package orders_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-stock-orders/internal/memstore"
	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/stock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	changes []orders.Change
}

func (r *recorder) Notify(_ context.Context, c orders.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.Type)
	}
	return out
}

func (r *recorder) last() orders.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changes[len(r.changes)-1]
}

type fixture struct {
	svc   *orders.Service
	store *memstore.Store
	rec   *recorder

	mu    sync.Mutex
	clock time.Time
	seq   int
}

func newFixture(t *testing.T, onHand map[stock.ProductID]int) *fixture {
	t.Helper()
	st := memstore.New()
	for id, q := range onHand {
		st.Seed(stock.Product{ID: id, Name: fmt.Sprintf("P%d", id), Code: fmt.Sprintf("C-%d", id), OnHand: q})
		st.PutPrice("default", id, decimal.NewFromInt(int64(id)*10))
	}
	st.PutCustomer(orders.CustomerSnapshot{ID: "c1", Name: "Acme GmbH", City: "Berlin"})

	f := &fixture{store: st, rec: &recorder{}, clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	f.svc = &orders.Service{
		Store:            st,
		Customers:        st,
		Prices:           st,
		Catalog:          st,
		Notifier:         f.rec,
		DefaultTaxRate:   decimal.NewFromInt(19),
		DefaultPriceList: "default",
		Now: func() time.Time {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.clock = f.clock.Add(time.Minute)
			return f.clock
		},
		NewID: func() string {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.seq++
			return fmt.Sprintf("ord-%03d", f.seq)
		},
	}
	return f
}

// order creates an order with one line per (product, qty) pair.
func (f *fixture) order(t *testing.T, pairs ...int) orders.Order {
	t.Helper()
	in := orders.CreateInput{CustomerID: "c1"}
	for i := 0; i+1 < len(pairs); i += 2 {
		in.Lines = append(in.Lines, orders.LineInput{ProductID: fmt.Sprint(pairs[i]), Quantity: pairs[i+1]})
	}
	o, _, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	return o
}

func (f *fixture) onHand(t *testing.T, ids ...stock.ProductID) map[stock.ProductID]int {
	t.Helper()
	m, err := f.store.OnHand(context.Background(), ids)
	require.NoError(t, err)
	return m
}

func (f *fixture) get(t *testing.T, id string) orders.Order {
	t.Helper()
	o, err := f.store.Order(context.Background(), id)
	require.NoError(t, err)
	return o
}

// put stores o as-is, bypassing validation, to model legacy documents.
func (f *fixture) put(t *testing.T, o orders.Order) {
	t.Helper()
	require.NoError(t, f.store.Atomic(context.Background(), func(tx orders.Tx) error {
		return tx.InsertOrder(context.Background(), o)
	}))
}

func quantities(o orders.Order) map[string]int {
	out := map[string]int{}
	for _, l := range o.Lines {
		out[l.ProductID] += l.Quantity
	}
	return out
}
