// Package memstore keeps orders, stock and the collaborator directories in
// process memory. Transactions are serialised by one mutex and write to a
// copy that replaces the live state only on commit.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/stock"
	"github.com/shopspring/decimal"
)

type state struct {
	orders   map[string]orders.Order
	products map[stock.ProductID]stock.Product
}

func (s state) clone() state {
	c := state{
		orders:   make(map[string]orders.Order, len(s.orders)),
		products: make(map[stock.ProductID]stock.Product, len(s.products)),
	}
	for k, o := range s.orders {
		c.orders[k] = o.Clone()
	}
	for k, p := range s.products {
		c.products[k] = p
	}
	return c
}

type Store struct {
	mu  sync.RWMutex
	st  state
	seq int64 // insertion order for stable listing
	pos map[string]int64

	// directories have their own lock so lookups work inside Atomic
	dirMu     sync.RWMutex
	customers map[string]orders.CustomerSnapshot
	prices    map[string]map[stock.ProductID]decimal.Decimal

	// FailNextCommit, when set, makes the next Atomic call fail after fn
	// succeeded, discarding its writes.
	FailNextCommit error
}

func New() *Store {
	return &Store{
		st: state{
			orders:   map[string]orders.Order{},
			products: map[stock.ProductID]stock.Product{},
		},
		pos:       map[string]int64{},
		customers: map[string]orders.CustomerSnapshot{},
		prices:    map[string]map[stock.ProductID]decimal.Decimal{},
	}
}

var (
	_ orders.Store             = (*Store)(nil)
	_ stock.Backend            = (*Store)(nil)
	_ stock.Catalog            = (*Store)(nil)
	_ orders.CustomerDirectory = (*Store)(nil)
	_ orders.PriceList         = (*Store)(nil)
)

func (s *Store) Atomic(ctx context.Context, fn func(tx orders.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	t := &tx{st: s.st.clone()}
	if err := fn(t); err != nil {
		return err
	}
	if err := s.FailNextCommit; err != nil {
		s.FailNextCommit = nil
		return err
	}
	s.st = t.st
	for _, id := range t.inserted {
		if _, ok := s.pos[id]; !ok {
			s.seq++
			s.pos[id] = s.seq
		}
	}
	for _, id := range t.deleted {
		delete(s.pos, id)
	}
	return nil
}

func (s *Store) StockTx(ctx context.Context, fn func(w stock.Writer) error) error {
	return s.Atomic(ctx, func(t orders.Tx) error { return fn(t) })
}

func (s *Store) Order(_ context.Context, id string) (orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.st.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o.Clone(), nil
}

func (s *Store) OrderByExternalID(_ context.Context, ext string) (orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.st.orders {
		if o.ExternalID != "" && o.ExternalID == ext {
			return o.Clone(), nil
		}
	}
	return orders.Order{}, orders.ErrNotFound
}

// Orders lists newest first.
func (s *Store) Orders(_ context.Context, f orders.Filter) ([]orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]orders.Order, 0, len(s.st.orders))
	for _, o := range s.st.orders {
		if f.Match(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.pos[out[i].ID] > s.pos[out[j].ID] })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) OnHand(_ context.Context, ids []stock.ProductID) (map[stock.ProductID]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return onHand(s.st, ids), nil
}

func onHand(st state, ids []stock.ProductID) map[stock.ProductID]int {
	out := make(map[stock.ProductID]int, len(ids))
	for _, id := range ids {
		if p, ok := st.products[id]; ok {
			out[id] = p.OnHand
		}
	}
	return out
}

// ---- catalog ----

func (s *Store) Product(_ context.Context, id stock.ProductID) (stock.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.st.products[id]
	if !ok {
		return stock.Product{}, fmt.Errorf("product %d: %w", id, stock.ErrUnknownProduct)
	}
	return p, nil
}

func (s *Store) Products(_ context.Context) ([]stock.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]stock.Product, 0, len(s.st.products))
	for _, p := range s.st.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpsertProduct(_ context.Context, p stock.Product) (stock.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.st.products[p.ID]; ok {
		p.OnHand = prev.OnHand
	} else {
		p.OnHand = 0
	}
	p.UpdatedAt = time.Now().UTC()
	s.st.products[p.ID] = p
	return p, nil
}

// Seed adds a product with an initial on-hand quantity. Test and demo setup
// only.
func (s *Store) Seed(p stock.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = time.Now().UTC()
	s.st.products[p.ID] = p
}

// ---- collaborators ----

func (s *Store) PutCustomer(c orders.CustomerSnapshot) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	s.customers[c.ID] = c
}

func (s *Store) Customer(_ context.Context, id string) (orders.CustomerSnapshot, error) {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return orders.CustomerSnapshot{}, orders.ErrCustomerNotFound
	}
	return c, nil
}

func (s *Store) PutPrice(listID string, id stock.ProductID, price decimal.Decimal) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	if s.prices[listID] == nil {
		s.prices[listID] = map[stock.ProductID]decimal.Decimal{}
	}
	s.prices[listID][id] = price
}

func (s *Store) UnitPrice(_ context.Context, listID string, id stock.ProductID) (decimal.Decimal, error) {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	p, ok := s.prices[listID][id]
	if !ok {
		return decimal.Zero, orders.ErrPriceNotFound
	}
	return p, nil
}
