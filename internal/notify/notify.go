// Package notify fans committed order changes out to live-update consumers.
package notify

import (
	"context"
	"sort"
	"time"

	kafkax "github.com/ariefcatur/go-stock-orders/internal/kafka"
	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/redisx"
	"github.com/ariefcatur/go-stock-orders/internal/stock"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Fanout []orders.Notifier

func (f Fanout) Notify(ctx context.Context, c orders.Change) {
	for _, n := range f {
		n.Notify(ctx, c)
	}
}

// Publisher is the part of kafka.Producer the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafkago.Header)
}

// Kafka publishes lifecycle envelopes and, when stock moved, a StockChanged
// envelope on the stock topic.
type Kafka struct {
	Lifecycle Publisher
	Stock     Publisher
	Producer  string
}

func (k Kafka) Notify(ctx context.Context, c orders.Change) {
	env := Envelope(ctx, k.Producer, c)
	k.Lifecycle.Publish(ctx, orders.PartitionKey(c.Order.ID), kafkax.MustMarshal(env),
		kafkax.EventHeaders(env.EventType, env.EventVersion)...)

	if len(c.StockDelta) == 0 || k.Stock == nil {
		return
	}
	sev := StockEnvelope(ctx, k.Producer, c)
	k.Stock.Publish(ctx, orders.PartitionKey(c.Order.ID), kafkax.MustMarshal(sev),
		kafkax.EventHeaders(sev.EventType, sev.EventVersion)...)
}

// Envelope wraps a change in the v1 event envelope.
func Envelope(ctx context.Context, producer string, c orders.Change) orders.Envelope {
	env := newEnvelope(ctx, producer, c)
	env.EventType = c.Type
	switch c.Type {
	case orders.EventOrderCreated, orders.EventOrderRepriced:
		env.Payload = kafkax.MustMarshal(c.Order)
	case orders.EventOrderSplit:
		p := orders.OrderSplitPayload{OrderID: c.Order.ID, Remaining: c.Order.Lines, ProcessedAt: c.Order.ProcessedAt, Actor: c.Actor}
		if c.Spawned != nil {
			p.ShippedOrderID = c.Spawned.ID
			p.Shipped = c.Spawned.Lines
		}
		env.Payload = kafkax.MustMarshal(p)
	default:
		env.Payload = kafkax.MustMarshal(orders.OrderStatusPayload{
			OrderID:     c.Order.ID,
			From:        c.From,
			Status:      c.Order.Status,
			ProcessedAt: c.Order.ProcessedAt,
			Actor:       c.Actor,
		})
	}
	return env
}

func StockEnvelope(ctx context.Context, producer string, c orders.Change) orders.Envelope {
	env := newEnvelope(ctx, producer, c)
	env.EventType = orders.EventStockChanged
	env.Payload = kafkax.MustMarshal(orders.StockChangedPayload{
		OrderID: c.Order.ID,
		Reason:  stockReason(c),
		Deltas:  deltas(c.StockDelta),
	})
	return env
}

func newEnvelope(ctx context.Context, producer string, c orders.Change) orders.Envelope {
	at := c.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventVersion:  1,
		OccurredAt:    at,
		Producer:      producer,
		CorrelationID: c.Order.ID,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	return env
}

func stockReason(c orders.Change) string {
	switch {
	case c.Type == orders.EventOrderSplit, c.Order.Status == orders.StatusShipped:
		return "SHIPMENT"
	case c.Order.Status == orders.StatusPending:
		return "PULL_BACK"
	case c.Order.Status == orders.StatusRejected:
		return "REJECTION"
	}
	return "RESTOCK"
}

func deltas(m map[stock.ProductID]int) []orders.StockDelta {
	out := make([]orders.StockDelta, 0, len(m))
	for id, d := range m {
		out = append(out, orders.StockDelta{ProductID: id, Delta: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// Cache keeps the Redis status cache in step with committed changes on the
// API side, so a status read right after a write never sees the old value.
type Cache struct {
	Cache redisx.Cache
	Log   *zap.Logger
}

func (n Cache) Notify(ctx context.Context, c orders.Change) {
	var err error
	if c.Type == orders.EventOrderDeleted {
		err = n.Cache.DropStatus(ctx, c.Order.ID)
	} else {
		_, err = n.Cache.SetStatus(ctx, redisx.Entry(c.Order.ID, string(c.Order.Status), c.Order.ProcessedAt))
		if err == nil && c.Spawned != nil {
			_, err = n.Cache.SetStatus(ctx, redisx.Entry(c.Spawned.ID, string(c.Spawned.Status), c.Spawned.ProcessedAt))
		}
	}
	if err != nil {
		n.Log.Warn("status cache update failed", zap.String("order_id", c.Order.ID), zap.Error(err))
	}
}

// Log writes every change at debug level.
type Log struct{ Log *zap.Logger }

func (n Log) Notify(_ context.Context, c orders.Change) {
	n.Log.Debug("order change", zap.String("type", c.Type), zap.String("order_id", c.Order.ID),
		zap.String("from", string(c.From)), zap.String("status", string(c.Order.Status)),
		zap.Int("stock_products", len(c.StockDelta)))
}
