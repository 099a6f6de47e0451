package stock

import (
	"context"
	"sort"
	"time"
)

type ProductID int64

type Product struct {
	ID        ProductID `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	Color     string    `json:"color,omitempty"`
	OnHand    int       `json:"on_hand"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Request maps a product to a quantity. Used for decrements, restocks and
// aggregated order requirements alike.
type Request map[ProductID]int

func (r Request) Add(id ProductID, qty int) { r[id] += qty }

// IDs returns the product ids in ascending order. Row locks are always taken
// in this order.
func (r Request) IDs() []ProductID {
	ids := make([]ProductID, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r Request) Total() int {
	n := 0
	for _, q := range r {
		n += q
	}
	return n
}

// Negate returns the signed delta a decrement of r applies to on-hand.
func (r Request) Negate() map[ProductID]int {
	out := make(map[ProductID]int, len(r))
	for id, q := range r {
		out[id] = -q
	}
	return out
}

func (r Request) validate() error {
	for id, q := range r {
		if q <= 0 {
			return &QuantityError{ProductID: id, Qty: q}
		}
	}
	return nil
}

// Reader is the read-only side of the ledger. Ids missing from the backing
// store are absent from the result.
type Reader interface {
	OnHand(ctx context.Context, ids []ProductID) (map[ProductID]int, error)
}

// Writer holds the transactional ledger primitives. Implementations run inside
// a caller-owned transaction.
type Writer interface {
	// DecrementIfSufficient returns the shortfalls when any product cannot
	// cover its quantity; in that case nothing was written.
	DecrementIfSufficient(ctx context.Context, req Request) ([]Shortfall, error)
	Restock(ctx context.Context, req Request) error
}

type Catalog interface {
	Product(ctx context.Context, id ProductID) (Product, error)
	Products(ctx context.Context) ([]Product, error)
	// UpsertProduct never changes on-hand of an existing product; new
	// products start at zero.
	UpsertProduct(ctx context.Context, p Product) (Product, error)
}
