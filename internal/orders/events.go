package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-stock-orders/internal/stock"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderSplit         = "OrderSplit"
	EventOrderRepriced      = "OrderRepriced"
	EventOrderDeleted       = "OrderDeleted"
	EventStockChanged       = "StockChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// Change describes a committed mutation. Notifiers receive it after commit.
type Change struct {
	Type       string
	Order      Order
	From       Status
	Spawned    *Order // shipped portion of a split
	StockDelta map[stock.ProductID]int
	Actor      string
	At         time.Time
}

// Notifier decouples live-update consumers from the core. Implementations
// must not block for long; failures are theirs to log.
type Notifier interface {
	Notify(ctx context.Context, c Change)
}

type NotifierFunc func(ctx context.Context, c Change)

func (f NotifierFunc) Notify(ctx context.Context, c Change) { f(ctx, c) }

// ---- payloads ----

type OrderStatusPayload struct {
	OrderID     string     `json:"order_id"`
	From        Status     `json:"from,omitempty"`
	Status      Status     `json:"status"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Actor       string     `json:"actor,omitempty"`
}

type OrderSplitPayload struct {
	OrderID        string     `json:"order_id"`
	ShippedOrderID string     `json:"shipped_order_id"`
	Remaining      []Line     `json:"remaining"`
	Shipped        []Line     `json:"shipped"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	Actor          string     `json:"actor,omitempty"`
}

type StockDelta struct {
	ProductID stock.ProductID `json:"product_id"`
	Delta     int             `json:"delta"`
}

type StockChangedPayload struct {
	OrderID string       `json:"order_id,omitempty"`
	Reason  string       `json:"reason"` // SHIPMENT | PULL_BACK | REJECTION | RESTOCK
	Deltas  []StockDelta `json:"deltas"`
}

type actorKey struct{}

// WithActor records the already-authenticated caller on ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) string {
	s, _ := ctx.Value(actorKey{}).(string)
	return s
}
