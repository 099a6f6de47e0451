package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ariefcatur/go-stock-orders/internal/stock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("orders")

// Service is the order lifecycle. Every mutating operation locks the order
// inside a store transaction and re-checks its status before writing.
type Service struct {
	Store     Store
	Customers CustomerDirectory
	Prices    PriceList
	Catalog   stock.Catalog
	Notifier  Notifier
	Log       *zap.Logger

	DefaultTaxRate   decimal.Decimal
	DefaultPriceList string

	Now   func() time.Time
	NewID func() string
}

type LineInput struct {
	ProductID string           `json:"product_id"`
	Quantity  int              `json:"quantity"`
	Color     string           `json:"color,omitempty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"` // overrides the price list
}

type CreateInput struct {
	ExternalID string           `json:"external_id,omitempty"`
	CustomerID string           `json:"customer_id"`
	PriceList  string           `json:"price_list,omitempty"`
	TaxRate    *decimal.Decimal `json:"tax_rate,omitempty"`
	Lines      []LineInput      `json:"lines"`
	Note       string           `json:"note,omitempty"`
}

// Create stores a new pending order. A known ExternalID returns the stored
// order with existed=true.
func (s *Service) Create(ctx context.Context, in CreateInput) (o Order, existed bool, err error) {
	ctx, span := tracer.Start(ctx, "orders.Create")
	defer func() { endSpan(span, err) }()

	if in.CustomerID == "" || len(in.Lines) == 0 {
		return Order{}, false, fmt.Errorf("%w: customer and at least one line required", ErrInvalidInput)
	}
	if in.ExternalID != "" {
		prev, err := s.Store.OrderByExternalID(ctx, in.ExternalID)
		if err == nil {
			return prev, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Order{}, false, err
		}
	}
	if s.Customers == nil {
		return Order{}, false, ErrCustomerNotFound
	}
	cust, err := s.Customers.Customer(ctx, in.CustomerID)
	if err != nil {
		return Order{}, false, fmt.Errorf("customer %s: %w", in.CustomerID, err)
	}

	listID := in.PriceList
	if listID == "" {
		listID = s.DefaultPriceList
	}
	lines := make([]Line, 0, len(in.Lines))
	for i, li := range in.Lines {
		l, err := s.buildLine(ctx, i, li, listID)
		if err != nil {
			return Order{}, false, err
		}
		lines = append(lines, l)
	}

	o = Order{
		ID:         s.newID(),
		ExternalID: in.ExternalID,
		Customer:   cust,
		Lines:      lines,
		Status:     StatusPending,
		CreatedAt:  s.now(),
		TaxRate:    s.DefaultTaxRate,
		Note:       in.Note,
	}
	if in.TaxRate != nil {
		if in.TaxRate.IsNegative() {
			return Order{}, false, fmt.Errorf("%w: negative tax rate", ErrInvalidInput)
		}
		o.TaxRate = *in.TaxRate
	}
	o.Recalculate()

	if err := s.Store.Atomic(ctx, func(tx Tx) error { return tx.InsertOrder(ctx, o) }); err != nil {
		return Order{}, false, fmt.Errorf("insert order: %w", err)
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	s.logger().Info("order created", zap.String("order_id", o.ID), zap.String("customer_id", cust.ID),
		zap.Int("lines", len(o.Lines)), zap.String("gross", o.GrossTotal.StringFixed(2)))
	s.notify(ctx, Change{Type: EventOrderCreated, Order: o})
	return o, false, nil
}

func (s *Service) buildLine(ctx context.Context, i int, li LineInput, listID string) (Line, error) {
	pid, err := stock.ParseProductID(li.ProductID)
	if err != nil {
		return Line{}, &stock.MalformedLineError{Index: i, ProductID: li.ProductID, Reason: "non-numeric product id"}
	}
	if li.Quantity <= 0 {
		return Line{}, &stock.QuantityError{ProductID: pid, Qty: li.Quantity}
	}
	if s.Catalog == nil {
		return Line{}, &stock.MalformedLineError{Index: i, ProductID: li.ProductID, Reason: "unknown product"}
	}
	p, err := s.Catalog.Product(ctx, pid)
	if errors.Is(err, stock.ErrUnknownProduct) {
		return Line{}, &stock.MalformedLineError{Index: i, ProductID: li.ProductID, Reason: "unknown product"}
	}
	if err != nil {
		return Line{}, err
	}

	var price decimal.Decimal
	switch {
	case li.UnitPrice != nil:
		price = *li.UnitPrice
	case s.Prices != nil:
		price, err = s.Prices.UnitPrice(ctx, listID, pid)
		if err != nil {
			return Line{}, fmt.Errorf("price for product %d in list %q: %w", pid, listID, err)
		}
	default:
		return Line{}, fmt.Errorf("product %d: %w", pid, ErrPriceNotFound)
	}
	if price.IsNegative() {
		return Line{}, fmt.Errorf("%w: negative unit price for product %d", ErrInvalidInput, pid)
	}

	color := p.Color
	if li.Color != "" {
		color = li.Color
	}
	return Line{
		ProductID:   strconv.FormatInt(int64(pid), 10),
		ProductName: p.Name,
		Color:       color,
		Quantity:    li.Quantity,
		UnitPrice:   price,
	}, nil
}

func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	return s.Store.Order(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Order, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, f.Status)
	}
	return s.Store.Orders(ctx, f)
}

// ApproveProduction moves a pending order into production. Stock is not touched.
func (s *Service) ApproveProduction(ctx context.Context, id string) (Order, error) {
	return s.transition(ctx, "orders.ApproveProduction", id, StatusInProduction, nil)
}

func (s *Service) Complete(ctx context.Context, id string) (Order, error) {
	return s.transition(ctx, "orders.Complete", id, StatusCompleted, nil)
}

// PullBack returns a shipped order to pending and puts its stock back.
func (s *Service) PullBack(ctx context.Context, id string) (Order, error) {
	return s.transition(ctx, "orders.PullBack", id, StatusPending, func(ctx context.Context, tx Tx, o Order) (map[stock.ProductID]int, error) {
		return s.restockLines(ctx, tx, o)
	})
}

// Reject ends a non-terminal order. Stock is restored only when it had been
// committed by a shipment.
func (s *Service) Reject(ctx context.Context, id string) (Order, error) {
	return s.transition(ctx, "orders.Reject", id, StatusRejected, func(ctx context.Context, tx Tx, o Order) (map[stock.ProductID]int, error) {
		if o.Status != StatusShipped {
			return nil, nil
		}
		return s.restockLines(ctx, tx, o)
	})
}

type sideEffect func(ctx context.Context, tx Tx, o Order) (map[stock.ProductID]int, error)

func (s *Service) transition(ctx context.Context, op, id string, to Status, effect sideEffect) (out Order, err error) {
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("order.id", id), attribute.String("order.to", string(to))))
	defer func() { endSpan(span, err) }()

	var (
		from  Status
		delta map[stock.ProductID]int
	)
	err = s.Store.Atomic(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(o.Status, to) {
			return &TransitionError{OrderID: id, From: o.Status, To: to}
		}
		from = o.Status
		if effect != nil {
			if delta, err = effect(ctx, tx, o); err != nil {
				return err
			}
		}
		o.Status = to
		o.ProcessedAt = s.stamp()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.logger().Info("order status changed", zap.String("order_id", id),
		zap.String("from", string(from)), zap.String("to", string(to)), zap.String("actor", ActorFrom(ctx)))
	s.notify(ctx, Change{Type: EventOrderStatusChanged, Order: out, From: from, StockDelta: delta})
	return out, nil
}

// restockLines credits every well-formed line of o back to stock.
func (s *Service) restockLines(ctx context.Context, tx Tx, o Order) (map[stock.ProductID]int, error) {
	req, bad, err := s.stockRequest(ctx, tx, o.StockItems(nil))
	if err != nil {
		return nil, err
	}
	s.warnMalformed(o.ID, bad)
	if len(req) == 0 {
		return nil, nil
	}
	if err := tx.Restock(ctx, req); err != nil {
		return nil, fmt.Errorf("restock order %s: %w", o.ID, err)
	}
	delta := make(map[stock.ProductID]int, len(req))
	for id, q := range req {
		delta[id] = q
	}
	return delta, nil
}

// stockRequest aggregates items per product and drops lines that cannot be
// accounted for: non-numeric ids and ids unknown to the ledger.
func (s *Service) stockRequest(ctx context.Context, tx Tx, items []stock.Item) (stock.Request, []stock.MalformedLineError, error) {
	req, bad := stock.Aggregate(items)
	if len(req) == 0 {
		return req, bad, nil
	}
	onHand, err := tx.OnHand(ctx, req.IDs())
	if err != nil {
		return nil, nil, err
	}
	bad = append(bad, stock.DropUnknown(req, items, onHand)...)
	return req, bad, nil
}

// Reprice rewrites unit prices from a price list for an order that has not
// shipped yet.
func (s *Service) Reprice(ctx context.Context, id, listID string) (out Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.Reprice", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { endSpan(span, err) }()

	if s.Prices == nil {
		return Order{}, ErrPriceNotFound
	}
	if listID == "" {
		listID = s.DefaultPriceList
	}
	// Price lookups stay outside the transaction; the order is re-checked
	// under lock before the new prices are written.
	snap, err := s.Store.Order(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !snap.Status.Shippable() {
		return Order{}, &TransitionError{OrderID: id, From: snap.Status, To: snap.Status}
	}
	prices := make([]decimal.Decimal, len(snap.Lines))
	for i, l := range snap.Lines {
		pid, err := stock.ParseProductID(l.ProductID)
		if err != nil {
			return Order{}, &stock.MalformedLineError{Index: i, ProductID: l.ProductID, Reason: "non-numeric product id"}
		}
		if prices[i], err = s.Prices.UnitPrice(ctx, listID, pid); err != nil {
			return Order{}, fmt.Errorf("price for product %d in list %q: %w", pid, listID, err)
		}
	}

	err = s.Store.Atomic(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if !o.Status.Shippable() {
			return &TransitionError{OrderID: id, From: o.Status, To: o.Status}
		}
		if !sameLines(o.Lines, snap.Lines) {
			return fmt.Errorf("order %s changed while repricing: %w", id, stock.ErrStorageConflict)
		}
		for i := range o.Lines {
			o.Lines[i].UnitPrice = prices[i]
		}
		o.Recalculate()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.logger().Info("order repriced", zap.String("order_id", id), zap.String("price_list", listID),
		zap.String("gross", out.GrossTotal.StringFixed(2)))
	s.notify(ctx, Change{Type: EventOrderRepriced, Order: out})
	return out, nil
}

func sameLines(a, b []Line) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ProductID != b[i].ProductID || a[i].Quantity != b[i].Quantity {
			return false
		}
	}
	return true
}

// Delete removes an order for good. Only terminal orders qualify.
func (s *Service) Delete(ctx context.Context, id string) (err error) {
	ctx, span := tracer.Start(ctx, "orders.Delete", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { endSpan(span, err) }()

	var gone Order
	err = s.Store.Atomic(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if !o.Status.Terminal() {
			return &TransitionError{OrderID: id, From: o.Status, To: "deleted"}
		}
		gone = o
		return tx.DeleteOrder(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger().Info("order deleted", zap.String("order_id", id), zap.String("actor", ActorFrom(ctx)))
	s.notify(ctx, Change{Type: EventOrderDeleted, Order: gone, From: gone.Status})
	return nil
}

func (s *Service) notify(ctx context.Context, c Change) {
	if s.Notifier == nil {
		return
	}
	if c.Actor == "" {
		c.Actor = ActorFrom(ctx)
	}
	if c.At.IsZero() {
		c.At = s.now()
	}
	s.Notifier.Notify(ctx, c)
}

func (s *Service) warnMalformed(orderID string, bad []stock.MalformedLineError) {
	for _, b := range bad {
		s.logger().Warn("line excluded from stock accounting", zap.String("order_id", orderID),
			zap.Int("line", b.Index), zap.String("product_id", b.ProductID), zap.String("reason", b.Reason))
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) stamp() *time.Time {
	t := s.now()
	return &t
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
