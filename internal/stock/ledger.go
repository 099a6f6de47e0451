package stock

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Backend opens a transaction scoped to stock writes. Returning an error from
// fn rolls everything back.
type Backend interface {
	Reader
	StockTx(ctx context.Context, fn func(w Writer) error) error
}

// Ledger is the only path that changes on-hand quantities outside an order
// operation. Order operations use Writer inside their own transaction.
type Ledger struct {
	Backend Backend
	Log     *zap.Logger
}

var tracer = otel.Tracer("stock")

// DecrementIfSufficient applies every decrement in req or none of them.
func (l *Ledger) DecrementIfSufficient(ctx context.Context, req Request) (bool, error) {
	ctx, span := tracer.Start(ctx, "stock.DecrementIfSufficient")
	defer span.End()
	span.SetAttributes(attribute.Int("stock.products", len(req)))

	if len(req) == 0 {
		return true, nil
	}
	if err := req.validate(); err != nil {
		return false, err
	}
	var short []Shortfall
	err := l.Backend.StockTx(ctx, func(w Writer) error {
		s, err := w.DecrementIfSufficient(ctx, req)
		if err != nil {
			return err
		}
		if len(s) > 0 {
			short = s
			return &InsufficientError{Shortfalls: s}
		}
		return nil
	})
	if short != nil {
		l.logger().Info("decrement rejected", zap.Any("shortfalls", short))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	return true, nil
}

// Restock is additive and not idempotent; callers own at-most-once delivery.
func (l *Ledger) Restock(ctx context.Context, req Request) error {
	ctx, span := tracer.Start(ctx, "stock.Restock")
	defer span.End()

	if len(req) == 0 {
		return nil
	}
	if err := req.validate(); err != nil {
		return err
	}
	if err := l.Backend.StockTx(ctx, func(w Writer) error { return w.Restock(ctx, req) }); err != nil {
		return fmt.Errorf("restock: %w", err)
	}
	l.logger().Info("restocked", zap.Int("products", len(req)), zap.Int("units", req.Total()))
	return nil
}

func (l *Ledger) GetOnHand(ctx context.Context, ids []ProductID) (map[ProductID]int, error) {
	if len(ids) == 0 {
		return map[ProductID]int{}, nil
	}
	return l.Backend.OnHand(ctx, ids)
}

func (l *Ledger) logger() *zap.Logger {
	if l.Log == nil {
		return zap.NewNop()
	}
	return l.Log
}
