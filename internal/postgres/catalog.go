package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/stock"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func (s *Store) Product(ctx context.Context, id stock.ProductID) (stock.Product, error) {
	p := stock.Product{ID: id}
	err := s.DB.QueryRow(ctx, `SELECT name, code, color, on_hand, updated_at FROM products WHERE id=$1`,
		int64(id)).Scan(&p.Name, &p.Code, &p.Color, &p.OnHand, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return stock.Product{}, fmt.Errorf("product %d: %w", id, stock.ErrUnknownProduct)
	}
	return p, err
}

func (s *Store) Products(ctx context.Context) ([]stock.Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, code, color, on_hand, updated_at FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stock.Product
	for rows.Next() {
		var (
			p  stock.Product
			id int64
		)
		if err := rows.Scan(&id, &p.Name, &p.Code, &p.Color, &p.OnHand, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.ID = stock.ProductID(id)
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertProduct leaves on_hand alone on conflict; stock only moves through
// the ledger.
func (s *Store) UpsertProduct(ctx context.Context, p stock.Product) (stock.Product, error) {
	err := s.DB.QueryRow(ctx, `
		INSERT INTO products(id, name, code, color, on_hand)
		VALUES ($1,$2,$3,$4,0)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, code=EXCLUDED.code, color=EXCLUDED.color, updated_at=now()
		RETURNING on_hand, updated_at`,
		int64(p.ID), p.Name, p.Code, p.Color).Scan(&p.OnHand, &p.UpdatedAt)
	if err != nil {
		return stock.Product{}, mapErr(err)
	}
	return p, nil
}

func (s *Store) Customer(ctx context.Context, id string) (orders.CustomerSnapshot, error) {
	var c orders.CustomerSnapshot
	err := s.DB.QueryRow(ctx, `
		SELECT id, name, company, email, phone, street, city, postal_code, country, tax_id
		FROM customers WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &c.Company, &c.Email, &c.Phone, &c.Street, &c.City, &c.PostalCode, &c.Country, &c.TaxID)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.CustomerSnapshot{}, orders.ErrCustomerNotFound
	}
	return c, err
}

func (s *Store) UnitPrice(ctx context.Context, listID string, id stock.ProductID) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := s.DB.QueryRow(ctx, `SELECT unit_price FROM price_list_items WHERE list_id=$1 AND product_id=$2`,
		listID, int64(id)).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, orders.ErrPriceNotFound
	}
	return price, err
}
