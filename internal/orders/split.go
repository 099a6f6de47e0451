package orders

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-stock-orders/internal/stock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeProductionConfirmed Outcome = "production_confirmed"
	OutcomeShipped             Outcome = "shipped"
	OutcomeSplit               Outcome = "split"
)

type SplitResult struct {
	Outcome Outcome `json:"outcome"`
	// Order is the original order after the operation.
	Order Order `json:"order"`
	// Shipped is the new order holding the shipped portion, set only for
	// OutcomeSplit.
	Shipped   *Order                     `json:"shipped,omitempty"`
	Malformed []stock.MalformedLineError `json:"malformed,omitempty"`
}

// ShipAll ships every line in full. Quantities come from the order as
// locked inside the transaction.
func (s *Service) ShipAll(ctx context.Context, id string) (SplitResult, error) {
	return s.ship(ctx, id, nil, true)
}

// Ship confirms shipment of shipQty[i] units of line i. Nothing shipped is a
// production confirmation; everything shipped moves the order to shipped;
// anything in between splits the shipped part into a new order while the
// original keeps the remainder in production. The stock decrement and both
// order writes commit together or not at all.
func (s *Service) Ship(ctx context.Context, id string, shipQty []int) (SplitResult, error) {
	return s.ship(ctx, id, shipQty, false)
}

func (s *Service) ship(ctx context.Context, id string, shipQty []int, all bool) (res SplitResult, err error) {
	ctx, span := tracer.Start(ctx, "orders.Ship", trace.WithAttributes(attribute.String("order.id", id), attribute.Bool("order.ship_all", all)))
	defer func() { endSpan(span, err) }()

	var from Status
	var delta map[stock.ProductID]int
	err = s.Store.Atomic(ctx, func(tx Tx) error {
		res = SplitResult{}
		delta = nil
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if !o.Status.Shippable() {
			return &TransitionError{OrderID: id, From: o.Status, To: StatusShipped}
		}
		if all {
			shipQty = make([]int, len(o.Lines))
			for i, l := range o.Lines {
				shipQty[i] = l.Quantity
			}
		}
		if err := validateShipQty(o, shipQty); err != nil {
			return err
		}
		from = o.Status

		totalShip, full := 0, true
		for i, l := range o.Lines {
			totalShip += shipQty[i]
			if shipQty[i] != l.Quantity {
				full = false
			}
		}

		if totalShip == 0 {
			o.Status = StatusInProduction
			o.ProcessedAt = s.stamp()
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
			res = SplitResult{Outcome: OutcomeProductionConfirmed, Order: o}
			return nil
		}

		items := o.StockItems(shipQty)
		req, bad, err := s.stockRequest(ctx, tx, items)
		if err != nil {
			return err
		}
		res.Malformed = bad
		if len(req) > 0 {
			short, err := tx.DecrementIfSufficient(ctx, req)
			if err != nil {
				return fmt.Errorf("decrement stock: %w", err)
			}
			if len(short) > 0 {
				return &stock.InsufficientError{Shortfalls: short}
			}
			delta = req.Negate()
		}

		now := s.stamp()
		if full {
			o.Status = StatusShipped
			o.ProcessedAt = now
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
			res.Outcome, res.Order = OutcomeShipped, o
			return nil
		}

		shipped, remaining := partition(o, shipQty)
		shipped.ID = s.newID()
		shipped.ExternalID = ""
		shipped.SplitFrom = o.ID
		shipped.Status = StatusShipped
		shipped.CreatedAt = *now
		shipped.ProcessedAt = now
		shipped.Recalculate()

		remaining.Status = StatusInProduction
		remaining.ProcessedAt = now
		remaining.Recalculate()

		if err := tx.InsertOrder(ctx, shipped); err != nil {
			return fmt.Errorf("insert shipped portion: %w", err)
		}
		if err := tx.UpdateOrder(ctx, remaining); err != nil {
			return fmt.Errorf("rewrite remainder: %w", err)
		}
		res.Outcome, res.Order, res.Shipped = OutcomeSplit, remaining, &shipped
		return nil
	})
	if err != nil {
		s.logger().Info("shipment not applied", zap.String("order_id", id), zap.Error(err))
		return SplitResult{}, err
	}

	s.warnMalformed(id, res.Malformed)
	span.SetAttributes(attribute.String("order.outcome", string(res.Outcome)))
	log := s.logger().With(zap.String("order_id", id), zap.String("outcome", string(res.Outcome)), zap.String("actor", ActorFrom(ctx)))
	switch res.Outcome {
	case OutcomeSplit:
		log.Info("order split", zap.String("shipped_order_id", res.Shipped.ID),
			zap.Int("shipped_units", res.Shipped.TotalQuantity()), zap.Int("remaining_units", res.Order.TotalQuantity()))
		s.notify(ctx, Change{Type: EventOrderSplit, Order: res.Order, From: from, Spawned: res.Shipped, StockDelta: delta})
	default:
		log.Info("shipment confirmed")
		s.notify(ctx, Change{Type: EventOrderStatusChanged, Order: res.Order, From: from, StockDelta: delta})
	}
	return res, nil
}

func validateShipQty(o Order, shipQty []int) error {
	if len(shipQty) != len(o.Lines) {
		return fmt.Errorf("%w: %d quantities for %d lines", ErrInvalidShipQuantity, len(shipQty), len(o.Lines))
	}
	for i, q := range shipQty {
		if q < 0 || q > o.Lines[i].Quantity {
			return fmt.Errorf("%w: line %d ships %d of %d", ErrInvalidShipQuantity, i, q, o.Lines[i].Quantity)
		}
	}
	return nil
}

// partition divides o's lines by shipQty. Lines with nothing left on one side
// are dropped from that side; per line shipped + remaining == ordered.
func partition(o Order, shipQty []int) (shipped, remaining Order) {
	shipped, remaining = o.Clone(), o.Clone()
	shipped.Lines, remaining.Lines = nil, nil
	for i, l := range o.Lines {
		if q := shipQty[i]; q > 0 {
			sl := l
			sl.Quantity = q
			shipped.Lines = append(shipped.Lines, sl)
		}
		if r := l.Quantity - shipQty[i]; r > 0 {
			rl := l
			rl.Quantity = r
			remaining.Lines = append(remaining.Lines, rl)
		}
	}
	return shipped, remaining
}
