// Package projector turns order and stock events into the Redis read model
// used for live UI updates.
package projector

import (
	"context"
	"fmt"

	kafkax "github.com/ariefcatur/go-stock-orders/internal/kafka"
	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/redisx"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Service struct {
	Cache       redisx.Cache
	Log         *zap.Logger
	ServiceName string
}

// HandleLifecycle is the consumer handler for the lifecycle topic.
func (s *Service) HandleLifecycle(ctx context.Context, m kafkago.Message) error {
	env, skip, err := s.open(ctx, m)
	if err != nil || skip {
		return err
	}

	switch env.EventType {
	case orders.EventOrderCreated, orders.EventOrderRepriced:
		o, err := kafkax.Unwrap[orders.Order](env.Payload)
		if err != nil {
			return err
		}
		if err := s.setStatus(ctx, redisx.Entry(o.ID, string(o.Status), o.ProcessedAt)); err != nil {
			return err
		}
	case orders.EventOrderStatusChanged:
		p, err := kafkax.Unwrap[orders.OrderStatusPayload](env.Payload)
		if err != nil {
			return err
		}
		if err := s.setStatus(ctx, redisx.Entry(p.OrderID, string(p.Status), p.ProcessedAt)); err != nil {
			return err
		}
	case orders.EventOrderSplit:
		p, err := kafkax.Unwrap[orders.OrderSplitPayload](env.Payload)
		if err != nil {
			return err
		}
		at := p.ProcessedAt
		if at == nil {
			at = &env.OccurredAt
		}
		if err := s.setStatus(ctx, redisx.Entry(p.OrderID, string(orders.StatusInProduction), at)); err != nil {
			return err
		}
		if err := s.setStatus(ctx, redisx.Entry(p.ShippedOrderID, string(orders.StatusShipped), at)); err != nil {
			return err
		}
	case orders.EventOrderDeleted:
		if err := s.Cache.DropStatus(ctx, env.CorrelationID); err != nil {
			return err
		}
	default:
		s.Log.Debug("ignoring event", zap.String("event_type", env.EventType))
		return s.done(ctx, env)
	}

	if err := s.Cache.Publish(ctx, redisx.ChannelOrders, m.Value); err != nil {
		return fmt.Errorf("publish live order update: %w", err)
	}
	s.Log.Info("order projection updated", zap.String("event_type", env.EventType), zap.String("order_id", env.CorrelationID))
	return s.done(ctx, env)
}

// HandleStock forwards stock movements to live subscribers.
func (s *Service) HandleStock(ctx context.Context, m kafkago.Message) error {
	env, skip, err := s.open(ctx, m)
	if err != nil || skip {
		return err
	}
	if env.EventType != orders.EventStockChanged {
		return s.done(ctx, env)
	}
	if _, err := kafkax.Unwrap[orders.StockChangedPayload](env.Payload); err != nil {
		return err
	}
	if err := s.Cache.Publish(ctx, redisx.ChannelStock, m.Value); err != nil {
		return fmt.Errorf("publish live stock update: %w", err)
	}
	return s.done(ctx, env)
}

// setStatus writes e to the status cache. A cached state newer than e stays
// in place; events can arrive after the API already cached a later state.
func (s *Service) setStatus(ctx context.Context, e redisx.StatusEntry) error {
	stored, err := s.Cache.SetStatus(ctx, e)
	if err != nil {
		return err
	}
	if !stored {
		s.Log.Debug("stale status ignored", zap.String("order_id", e.OrderID), zap.String("status", e.Status))
	}
	return nil
}

// open decodes the envelope and reports whether it was already processed.
func (s *Service) open(ctx context.Context, m kafkago.Message) (orders.Envelope, bool, error) {
	env, err := kafkax.Unwrap[orders.Envelope](m.Value)
	if err != nil {
		s.Log.Error("invalid envelope", zap.Error(err), zap.ByteString("key", m.Key))
		return orders.Envelope{}, false, err
	}
	seen, err := redisx.Exists(ctx, s.Cache.RDB, fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID))
	if err != nil {
		return orders.Envelope{}, false, err
	}
	return env, seen, nil
}

func (s *Service) done(ctx context.Context, env orders.Envelope) error {
	_, err := s.Cache.FirstSeen(ctx, s.ServiceName, env.EventID)
	return err
}
