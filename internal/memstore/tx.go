package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/stock"
)

type tx struct {
	st       state
	inserted []string
	deleted  []string
}

func (t *tx) OnHand(_ context.Context, ids []stock.ProductID) (map[stock.ProductID]int, error) {
	return onHand(t.st, ids), nil
}

func (t *tx) DecrementIfSufficient(_ context.Context, req stock.Request) ([]stock.Shortfall, error) {
	if short := stock.Covers(req, onHand(t.st, req.IDs())); len(short) > 0 {
		return short, nil
	}
	now := time.Now().UTC()
	for id, q := range req {
		p := t.st.products[id]
		p.OnHand -= q
		p.UpdatedAt = now
		t.st.products[id] = p
	}
	return nil, nil
}

func (t *tx) Restock(_ context.Context, req stock.Request) error {
	for _, id := range req.IDs() {
		if _, ok := t.st.products[id]; !ok {
			return fmt.Errorf("product %d: %w", id, stock.ErrUnknownProduct)
		}
	}
	now := time.Now().UTC()
	for id, q := range req {
		p := t.st.products[id]
		p.OnHand += q
		p.UpdatedAt = now
		t.st.products[id] = p
	}
	return nil
}

func (t *tx) LockOrder(_ context.Context, id string) (orders.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o.Clone(), nil
}

func (t *tx) InsertOrder(_ context.Context, o orders.Order) error {
	if _, ok := t.st.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	if o.ExternalID != "" {
		for _, prev := range t.st.orders {
			if prev.ExternalID == o.ExternalID {
				return fmt.Errorf("external id %s: %w", o.ExternalID, stock.ErrStorageConflict)
			}
		}
	}
	t.st.orders[o.ID] = o.Clone()
	t.inserted = append(t.inserted, o.ID)
	return nil
}

func (t *tx) UpdateOrder(_ context.Context, o orders.Order) error {
	if _, ok := t.st.orders[o.ID]; !ok {
		return orders.ErrNotFound
	}
	t.st.orders[o.ID] = o.Clone()
	return nil
}

func (t *tx) DeleteOrder(_ context.Context, id string) error {
	if _, ok := t.st.orders[id]; !ok {
		return orders.ErrNotFound
	}
	delete(t.st.orders, id)
	t.deleted = append(t.deleted, id)
	return nil
}
