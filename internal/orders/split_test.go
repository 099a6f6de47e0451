package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ariefcatur/go-stock-orders/internal/memstore"
	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/stock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShip_NothingShippedConfirmsProduction(t *testing.T) {
	f := newFixture(t, map[stock.ProductID]int{1: 10, 2: 4})
	o := f.order(t, 1, 10, 2, 4)

	res, err := f.svc.Ship(context.Background(), o.ID, []int{0, 0})
	require.NoError(t, err)

	assert.Equal(t, orders.OutcomeProductionConfirmed, res.Outcome)
	assert.Equal(t, orders.StatusInProduction, res.Order.Status)
	require.NotNil(t, res.Order.ProcessedAt)
	assert.Nil(t, res.Shipped)
	assert.Equal(t, map[stock.ProductID]int{1: 10, 2: 4}, f.onHand(t, 1, 2))
	assert.Empty(t, f.rec.last().StockDelta)
}

func TestShip_NothingShippedTwiceKeepsInProduction(t *testing.T) {
	f := newFixture(t, map[stock.ProductID]int{1: 10})
	ctx := context.Background()
	o := f.order(t, 1, 2)

	first, err := f.svc.Ship(ctx, o.ID, []int{0})
	require.NoError(t, err)
	second, err := f.svc.Ship(ctx, o.ID, []int{0})
	require.NoError(t, err)

	assert.Equal(t, orders.StatusInProduction, second.Order.Status)
	assert.True(t, second.Order.ProcessedAt.After(*first.Order.ProcessedAt))
}

func TestShip_FullShipment(t *testing.T) {
	f := newFixture(t, map[stock.ProductID]int{1: 10, 2: 4})
	o := f.order(t, 1, 10, 2, 4)

	res, err := f.svc.ShipAll(context.Background(), o.ID)
	require.NoError(t, err)

	assert.Equal(t, orders.OutcomeShipped, res.Outcome)
	assert.Equal(t, orders.StatusShipped, res.Order.Status)
	assert.Equal(t, o.ID, res.Order.ID)
	assert.Equal(t, map[stock.ProductID]int{1: 0, 2: 0}, f.onHand(t, 1, 2))

	last := f.rec.last()
	assert.Equal(t, orders.EventOrderStatusChanged, last.Type)
	assert.Equal(t, orders.StatusPending, last.From)
	assert.Equal(t, map[stock.ProductID]int{1: -10, 2: -4}, last.StockDelta)
}

func TestShip_PartialSplitsOrder(t *testing.T) {
	f := newFixture(t, map[stock.ProductID]int{1: 10, 2: 1})
	ctx := context.Background()
	o := f.order(t, 1, 10, 2, 4)

	res, err := f.svc.Ship(ctx, o.ID, []int{10, 1})
	require.NoError(t, err)

	assert.Equal(t, orders.OutcomeSplit, res.Outcome)
	require.NotNil(t, res.Shipped)
	assert.NotEqual(t, o.ID, res.Shipped.ID)
	assert.Equal(t, o.ID, res.Shipped.SplitFrom)
	assert.Equal(t, orders.StatusShipped, res.Shipped.Status)
	assert.Equal(t, map[string]int{"1": 10, "2": 1}, quantities(*res.Shipped))
	assert.Equal(t, o.Customer, res.Shipped.Customer)

	assert.Equal(t, o.ID, res.Order.ID)
	assert.Equal(t, orders.StatusInProduction, res.Order.Status)
	assert.Equal(t, map[string]int{"2": 3}, quantities(res.Order))

	// both halves are persisted and priced on their own lines
	stored := f.get(t, o.ID)
	assert.Equal(t, map[string]int{"2": 3}, quantities(stored))
	assert.Equal(t, "60.00", stored.NetTotal.StringFixed(2))
	spawned := f.get(t, res.Shipped.ID)
	assert.Equal(t, "120.00", spawned.NetTotal.StringFixed(2))
	assert.True(t, spawned.NetTotal.Add(stored.NetTotal).Equal(o.NetTotal))

	assert.Equal(t, map[stock.ProductID]int{1: 0, 2: 0}, f.onHand(t, 1, 2))

	last := f.rec.last()
	assert.Equal(t, orders.EventOrderSplit, last.Type)
	require.NotNil(t, last.Spawned)
	assert.Equal(t, res.Shipped.ID, last.Spawned.ID)
	assert.Equal(t, map[stock.ProductID]int{1: -10, 2: -1}, last.StockDelta)
}

func TestShip_SplitConservesQuantities(t *testing.T) {
	cases := [][]int{{1, 0, 0}, {0, 0, 2}, {5, 3, 1}, {4, 0, 2}, {0, 3, 0}}
	for _, ship := range cases {
		f := newFixture(t, map[stock.ProductID]int{1: 50, 2: 50, 3: 50})
		o := f.order(t, 1, 5, 2, 3, 3, 2)

		res, err := f.svc.Ship(context.Background(), o.ID, ship)
		require.NoError(t, err, "ship %v", ship)

		total := quantities(res.Order)
		if res.Shipped != nil {
			for pid, q := range quantities(*res.Shipped) {
				total[pid] += q
			}
		}
		assert.Equal(t, quantities(o), total, "ship %v", ship)

		shipped := ship[0] + ship[1] + ship[2]
		onHand := f.onHand(t, 1, 2, 3)
		assert.Equal(t, 150-shipped, onHand[1]+onHand[2]+onHand[3], "ship %v", ship)
	}
}

func TestShip_InsufficientStockChangesNothing(t *testing.T) {
	f := newFixture(t, map[stock.ProductID]int{1: 10, 2: 1})
	ctx := context.Background()
	o := f.order(t, 1, 10, 2, 4)
	events := len(f.rec.types())

	_, err := f.svc.Ship(ctx, o.ID, []int{10, 2})

	var ie *stock.InsufficientError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, []stock.Shortfall{{ProductID: 2, Required: 2, Available: 1}}, ie.Shortfalls)
	assert.ErrorIs(t, err, orders.ErrInsufficientStock)

	assert.Equal(t, map[stock.ProductID]int{1: 10, 2: 1}, f.onHand(t, 1, 2))
	got := f.get(t, o.ID)
	assert.Equal(t, orders.StatusPending, got.Status)
	assert.Equal(t, quantities(o), quantities(got))
	all, _ := f.svc.List(ctx, orders.Filter{})
	assert.Len(t, all, 1)
	assert.Len(t, f.rec.types(), events)
}

func TestShip_InvalidQuantities(t *testing.T) {
	f := newFixture(t, map[stock.ProductID]int{1: 10, 2: 10})
	o := f.order(t, 1, 3, 2, 3)

	for _, q := range [][]int{{1}, {1, 2, 3}, {-1, 0}, {4, 0}} {
		_, err := f.svc.Ship(context.Background(), o.ID, q)
		assert.ErrorIs(t, err, orders.ErrInvalidShipQuantity, "ship %v", q)
	}
	assert.Equal(t, orders.StatusPending, f.get(t, o.ID).Status)
}

func TestShip_AlreadyShipped(t *testing.T) {
	f := newFixture(t, map[stock.ProductID]int{1: 10})
	ctx := context.Background()
	o := f.order(t, 1, 2)
	_, err := f.svc.ShipAll(ctx, o.ID)
	require.NoError(t, err)

	_, err = f.svc.ShipAll(ctx, o.ID)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
	assert.Equal(t, 8, f.onHand(t, 1)[1])
}

func TestShip_CompletedOrderIsRejected(t *testing.T) {
	f := newFixture(t, map[stock.ProductID]int{1: 10})
	ctx := context.Background()
	o := f.order(t, 1, 2)
	_, err := f.svc.ShipAll(ctx, o.ID)
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, o.ID)
	require.NoError(t, err)
	before := f.get(t, o.ID)
	require.Equal(t, orders.StatusCompleted, before.Status)

	_, err = f.svc.ShipAll(ctx, o.ID)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
	_, err = f.svc.Ship(ctx, o.ID, []int{1})
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
	_, err = f.svc.Ship(ctx, o.ID, []int{0})
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)

	assert.Equal(t, before, f.get(t, o.ID))
	assert.Equal(t, 8, f.onHand(t, 1)[1])
}

// staleReads serves the order as it was before any shipment, the way a
// read replica or cache could lag behind the primary.
type staleReads struct {
	*memstore.Store
	snapshot orders.Order
}

func (s *staleReads) Order(ctx context.Context, id string) (orders.Order, error) {
	if id == s.snapshot.ID {
		return s.snapshot.Clone(), nil
	}
	return s.Store.Order(ctx, id)
}

func TestShipAll_UsesLockedQuantities(t *testing.T) {
	f := newFixture(t, map[stock.ProductID]int{1: 10})
	ctx := context.Background()
	o := f.order(t, 1, 4)
	_, err := f.svc.Ship(ctx, o.ID, []int{1})
	require.NoError(t, err)
	f.svc.Store = &staleReads{Store: f.store, snapshot: o}

	res, err := f.svc.ShipAll(ctx, o.ID)
	require.NoError(t, err)

	assert.Equal(t, orders.OutcomeShipped, res.Outcome)
	assert.Equal(t, 3, res.Order.Lines[0].Quantity)
	assert.Equal(t, 6, f.onHand(t, 1)[1])
}

func TestShip_MalformedLinesMoveWithoutStock(t *testing.T) {
	f := newFixture(t, map[stock.ProductID]int{1: 10})
	f.put(t, orders.Order{ID: "legacy", Status: orders.StatusPending, Lines: []orders.Line{
		{ProductID: "1", Quantity: 4},
		{ProductID: "SKU-9", Quantity: 2},
	}})

	res, err := f.svc.Ship(context.Background(), "legacy", []int{4, 1})
	require.NoError(t, err)

	assert.Equal(t, orders.OutcomeSplit, res.Outcome)
	require.Len(t, res.Malformed, 1)
	assert.Equal(t, 1, res.Malformed[0].Index)
	assert.Equal(t, map[string]int{"1": 4, "SKU-9": 1}, quantities(*res.Shipped))
	assert.Equal(t, map[string]int{"SKU-9": 1}, quantities(res.Order))
	assert.Equal(t, 6, f.onHand(t, 1)[1])
}

func TestShip_FailedCommitLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, map[stock.ProductID]int{1: 10, 2: 4})
	o := f.order(t, 1, 10, 2, 4)
	boom := errors.New("connection reset")
	f.store.FailNextCommit = boom

	_, err := f.svc.Ship(context.Background(), o.ID, []int{5, 2})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, map[stock.ProductID]int{1: 10, 2: 4}, f.onHand(t, 1, 2))
	got := f.get(t, o.ID)
	assert.Equal(t, orders.StatusPending, got.Status)
	assert.Equal(t, quantities(o), quantities(got))
	all, _ := f.svc.List(context.Background(), orders.Filter{})
	assert.Len(t, all, 1)
}

func TestShip_ConcurrentShipmentsNeverOversell(t *testing.T) {
	f := newFixture(t, map[stock.ProductID]int{1: 7})
	ctx := context.Background()
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = f.order(t, 1, 1).ID
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.svc.ShipAll(ctx, id)
		}(i, id)
	}
	wg.Wait()

	ok, short := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, orders.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 7, ok)
	assert.Equal(t, 3, short)
	assert.Equal(t, 0, f.onHand(t, 1)[1])

	shipped, err := f.svc.List(ctx, orders.Filter{Status: orders.StatusShipped})
	require.NoError(t, err)
	assert.Len(t, shipped, 7)
}
