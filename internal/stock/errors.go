package stock

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrStorageConflict   = errors.New("storage conflict, retry")
	ErrMalformedLine     = errors.New("malformed line")
	ErrUnknownProduct    = errors.New("unknown product")
	ErrInvalidQuantity   = errors.New("invalid quantity")
)

type Shortfall struct {
	ProductID ProductID `json:"product_id"`
	Required  int       `json:"required"`
	Available int       `json:"available"`
	Unknown   bool      `json:"unknown,omitempty"`
}

type InsufficientError struct {
	Shortfalls []Shortfall
}

func (e *InsufficientError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		if s.Unknown {
			parts = append(parts, fmt.Sprintf("%d: unknown", s.ProductID))
			continue
		}
		parts = append(parts, fmt.Sprintf("%d: need %d have %d", s.ProductID, s.Required, s.Available))
	}
	return ErrInsufficientStock.Error() + " (" + strings.Join(parts, ", ") + ")"
}

func (e *InsufficientError) Unwrap() error { return ErrInsufficientStock }

// MalformedLineError flags an order line whose product reference cannot be
// used for stock accounting.
type MalformedLineError struct {
	Index     int    `json:"index"`
	ProductID string `json:"product_id"`
	Reason    string `json:"reason"`
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("%s: line %d product %q: %s", ErrMalformedLine, e.Index, e.ProductID, e.Reason)
}

func (e *MalformedLineError) Unwrap() error { return ErrMalformedLine }

type QuantityError struct {
	ProductID ProductID
	Qty       int
}

func (e *QuantityError) Error() string {
	return fmt.Sprintf("%s: product %d qty %d", ErrInvalidQuantity, e.ProductID, e.Qty)
}

func (e *QuantityError) Unwrap() error { return ErrInvalidQuantity }
