package orders

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-stock-orders/internal/stock"
)

type Sufficiency struct {
	OrderID    string                     `json:"order_id"`
	Sufficient bool                       `json:"sufficient"`
	Shortfalls []stock.Shortfall          `json:"shortfalls,omitempty"`
	Malformed  []stock.MalformedLineError `json:"malformed,omitempty"`
}

// Oracle answers whether orders could be satisfied from current stock. The
// answer is read outside any transaction and may be stale by the time a
// shipment decrements stock.
type Oracle struct {
	Stock stock.Reader
}

func (or Oracle) Check(ctx context.Context, list []Order) (map[string]Sufficiency, error) {
	type agg struct {
		items []stock.Item
		req   stock.Request
		bad   []stock.MalformedLineError
	}
	per := make(map[string]agg, len(list))
	union := stock.Request{}
	for _, o := range list {
		items := o.StockItems(nil)
		req, bad := stock.Aggregate(items)
		per[o.ID] = agg{items: items, req: req, bad: bad}
		for id := range req {
			union.Add(id, 0)
		}
	}

	onHand := map[stock.ProductID]int{}
	if len(union) > 0 {
		var err error
		onHand, err = or.Stock.OnHand(ctx, union.IDs())
		if err != nil {
			return nil, fmt.Errorf("stock snapshot: %w", err)
		}
	}

	out := make(map[string]Sufficiency, len(list))
	for _, o := range list {
		a := per[o.ID]
		bad := append(a.bad, stock.DropUnknown(a.req, a.items, onHand)...)
		short := stock.Covers(a.req, onHand)
		out[o.ID] = Sufficiency{
			OrderID:    o.ID,
			Sufficient: len(short) == 0,
			Shortfalls: short,
			Malformed:  bad,
		}
	}
	return out, nil
}

// Sufficiency loads the orders and runs the oracle over them.
func (s *Service) Sufficiency(ctx context.Context, ids []string) (map[string]Sufficiency, error) {
	list := make([]Order, 0, len(ids))
	for _, id := range ids {
		o, err := s.Store.Order(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", id, err)
		}
		list = append(list, o)
	}
	return Oracle{Stock: s.Store}.Check(ctx, list)
}
