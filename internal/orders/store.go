package orders

import (
	"context"

	"github.com/ariefcatur/go-stock-orders/internal/stock"
	"github.com/shopspring/decimal"
)

// Store persists orders and owns the transaction that order operations and
// stock writes share.
type Store interface {
	stock.Reader
	// Atomic runs fn in one transaction. Any error from fn rolls back every
	// write made through tx.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	Order(ctx context.Context, id string) (Order, error)
	OrderByExternalID(ctx context.Context, externalID string) (Order, error)
	Orders(ctx context.Context, f Filter) ([]Order, error)
}

type Tx interface {
	stock.Reader
	stock.Writer
	// LockOrder reads the order and holds it against concurrent writers
	// until the transaction ends.
	LockOrder(ctx context.Context, id string) (Order, error)
	InsertOrder(ctx context.Context, o Order) error
	UpdateOrder(ctx context.Context, o Order) error
	DeleteOrder(ctx context.Context, id string) error
}

type CustomerDirectory interface {
	Customer(ctx context.Context, id string) (CustomerSnapshot, error)
}

type PriceList interface {
	UnitPrice(ctx context.Context, listID string, productID stock.ProductID) (decimal.Decimal, error)
}
