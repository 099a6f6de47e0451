package stock

import (
	"sort"
	"strconv"
	"strings"
)

// ParseProductID accepts a base-10 id, zero padding allowed ("0042" is 42).
func ParseProductID(s string) (ProductID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrMalformedLine
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, ErrMalformedLine
	}
	return ProductID(n), nil
}

// Item is one line's contribution to a stock request.
type Item struct {
	Index     int
	ProductID string
	Qty       int
}

// Aggregate sums quantities per parsed product id. Items with zero quantity
// are skipped; items whose product id does not parse are returned as
// malformed and left out of the request.
func Aggregate(items []Item) (Request, []MalformedLineError) {
	req := Request{}
	var bad []MalformedLineError
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		id, err := ParseProductID(it.ProductID)
		if err != nil {
			bad = append(bad, MalformedLineError{Index: it.Index, ProductID: it.ProductID, Reason: "non-numeric product id"})
			continue
		}
		req.Add(id, it.Qty)
	}
	return req, bad
}

// DropUnknown removes ids absent from onHand and reports the items that
// referenced them.
func DropUnknown(req Request, items []Item, onHand map[ProductID]int) []MalformedLineError {
	var bad []MalformedLineError
	for _, id := range req.IDs() {
		if _, ok := onHand[id]; ok {
			continue
		}
		delete(req, id)
		for _, it := range items {
			if it.Qty <= 0 {
				continue
			}
			if pid, err := ParseProductID(it.ProductID); err == nil && pid == id {
				bad = append(bad, MalformedLineError{Index: it.Index, ProductID: it.ProductID, Reason: "unknown product"})
			}
		}
	}
	sort.Slice(bad, func(i, j int) bool { return bad[i].Index < bad[j].Index })
	return bad
}

// Covers reports the shortfalls of req against an on-hand snapshot.
func Covers(req Request, onHand map[ProductID]int) []Shortfall {
	var out []Shortfall
	for _, id := range req.IDs() {
		have, ok := onHand[id]
		if !ok {
			out = append(out, Shortfall{ProductID: id, Required: req[id], Unknown: true})
			continue
		}
		if have-req[id] < 0 {
			out = append(out, Shortfall{ProductID: id, Required: req[id], Available: have})
		}
	}
	return out
}
