package orders

import (
	"time"

	"github.com/ariefcatur/go-stock-orders/internal/stock"
	"github.com/shopspring/decimal"
)

// CustomerSnapshot is copied into the order at creation and never refreshed.
type CustomerSnapshot struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Company    string `json:"company,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
	TaxID      string `json:"tax_id,omitempty"`
}

type Line struct {
	ProductID   string          `json:"product_id"` // join key to stock, numeric
	ProductName string          `json:"product_name"`
	Color       string          `json:"color,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (l Line) Net() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID          string           `json:"id"`
	ExternalID  string           `json:"external_id,omitempty"`
	Customer    CustomerSnapshot `json:"customer"`
	Lines       []Line           `json:"lines"`
	Status      Status           `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty"`
	NetTotal    decimal.Decimal  `json:"net_total"`
	TaxRate     decimal.Decimal  `json:"tax_rate"` // percent
	TaxAmount   decimal.Decimal  `json:"tax_amount"`
	GrossTotal  decimal.Decimal  `json:"gross_total"`
	Note        string           `json:"note,omitempty"`
	SplitFrom   string           `json:"split_from,omitempty"`
}

// Clone returns a copy that shares no mutable state with o.
func (o Order) Clone() Order {
	c := o
	c.Lines = append([]Line(nil), o.Lines...)
	if o.ProcessedAt != nil {
		t := *o.ProcessedAt
		c.ProcessedAt = &t
	}
	return c
}

// Recalculate derives net, tax and gross from the lines and tax rate. Each
// total is rounded to cents once per order, and gross is always net + tax.
func (o *Order) Recalculate() {
	net := decimal.Zero
	for _, l := range o.Lines {
		net = net.Add(l.Net())
	}
	o.NetTotal = net.Round(2)
	o.TaxAmount = o.NetTotal.Mul(o.TaxRate).Div(decimal.NewFromInt(100)).Round(2)
	o.GrossTotal = o.NetTotal.Add(o.TaxAmount)
}

func (o Order) TotalQuantity() int {
	n := 0
	for _, l := range o.Lines {
		n += l.Quantity
	}
	return n
}

// StockItems lists the lines as stock items; qty overrides the line
// quantities when non-nil.
func (o Order) StockItems(qty []int) []stock.Item {
	items := make([]stock.Item, 0, len(o.Lines))
	for i, l := range o.Lines {
		q := l.Quantity
		if qty != nil {
			q = qty[i]
		}
		items = append(items, stock.Item{Index: i, ProductID: l.ProductID, Qty: q})
	}
	return items
}

type Filter struct {
	Status     Status
	CustomerID string
	Limit      int
}

func (f Filter) Match(o Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.CustomerID != "" && o.Customer.ID != f.CustomerID {
		return false
	}
	return true
}
