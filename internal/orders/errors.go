package orders

import (
	"errors"
	"fmt"

	"github.com/ariefcatur/go-stock-orders/internal/stock"
)

var (
	ErrNotFound            = errors.New("order not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInvalidShipQuantity = errors.New("invalid ship quantity")
	ErrInvalidInput        = errors.New("invalid input")
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrPriceNotFound       = errors.New("price not found")

	// Re-exported so callers of this package need not import stock.
	ErrInsufficientStock = stock.ErrInsufficientStock
	ErrStorageConflict   = stock.ErrStorageConflict
	ErrMalformedLine     = stock.ErrMalformedLine
	ErrInvalidQuantity   = stock.ErrInvalidQuantity
)

type TransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: order %s %s -> %s", ErrInvalidTransition, e.OrderID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
