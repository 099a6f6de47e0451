package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/stock"
	"github.com/jackc/pgx/v5"
)

// Store keeps orders and products in PostgreSQL. Order documents carry the
// customer snapshot and lines as jsonb.
type Store struct{ DB DB }

var (
	_ orders.Store             = (*Store)(nil)
	_ stock.Backend            = (*Store)(nil)
	_ stock.Catalog            = (*Store)(nil)
	_ orders.CustomerDirectory = (*Store)(nil)
	_ orders.PriceList         = (*Store)(nil)
)

const orderCols = `id, COALESCE(external_id, ''), customer, lines, status, created_at, processed_at,
	net_total, tax_rate, tax_amount, gross_total, note, split_from`

func (s *Store) Atomic(ctx context.Context, fn func(tx orders.Tx) error) error {
	return inTx(ctx, s.DB, func(tx pgx.Tx) error { return fn(&pgTx{tx: tx}) })
}

func (s *Store) StockTx(ctx context.Context, fn func(w stock.Writer) error) error {
	return inTx(ctx, s.DB, func(tx pgx.Tx) error { return fn(&pgTx{tx: tx}) })
}

func (s *Store) Order(ctx context.Context, id string) (orders.Order, error) {
	return scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
}

func (s *Store) OrderByExternalID(ctx context.Context, externalID string) (orders.Order, error) {
	return scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE external_id=$1`, externalID))
}

func (s *Store) Orders(ctx context.Context, f orders.Filter) ([]orders.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if f.CustomerID != "" {
		args = append(args, f.CustomerID)
		where = append(where, fmt.Sprintf("customer->>'id'=$%d", len(args)))
	}
	q := `SELECT ` + orderCols + ` FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) OnHand(ctx context.Context, ids []stock.ProductID) (map[stock.ProductID]int, error) {
	return onHand(ctx, s.DB, ids, false)
}

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o           orders.Order
		cust, lines []byte
		status      string
	)
	err := row.Scan(&o.ID, &o.ExternalID, &cust, &lines, &status, &o.CreatedAt, &o.ProcessedAt,
		&o.NetTotal, &o.TaxRate, &o.TaxAmount, &o.GrossTotal, &o.Note, &o.SplitFrom)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orders.ErrNotFound
	}
	if err != nil {
		return orders.Order{}, err
	}
	o.Status = orders.Status(status)
	if err := json.Unmarshal(cust, &o.Customer); err != nil {
		return orders.Order{}, fmt.Errorf("order %s customer: %w", o.ID, err)
	}
	if err := json.Unmarshal(lines, &o.Lines); err != nil {
		return orders.Order{}, fmt.Errorf("order %s lines: %w", o.ID, err)
	}
	return o, nil
}

// ---- transaction ----

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) OnHand(ctx context.Context, ids []stock.ProductID) (map[stock.ProductID]int, error) {
	return onHand(ctx, t.tx, ids, false)
}

// DecrementIfSufficient locks the rows in id order, checks every product and
// only then writes.
func (t *pgTx) DecrementIfSufficient(ctx context.Context, req stock.Request) ([]stock.Shortfall, error) {
	have, err := onHand(ctx, t.tx, req.IDs(), true)
	if err != nil {
		return nil, err
	}
	if short := stock.Covers(req, have); len(short) > 0 {
		return short, nil
	}
	for _, id := range req.IDs() {
		ct, err := t.tx.Exec(ctx, `UPDATE products SET on_hand = on_hand - $2, updated_at = now()
			WHERE id=$1 AND on_hand >= $2`, int64(id), req[id])
		if err != nil {
			return nil, err
		}
		if ct.RowsAffected() != 1 {
			return nil, fmt.Errorf("%w: product %d changed under lock", stock.ErrStorageConflict, id)
		}
	}
	return nil, nil
}

func (t *pgTx) Restock(ctx context.Context, req stock.Request) error {
	for _, id := range req.IDs() {
		ct, err := t.tx.Exec(ctx, `UPDATE products SET on_hand = on_hand + $2, updated_at = now() WHERE id=$1`,
			int64(id), req[id])
		if err != nil {
			return err
		}
		if ct.RowsAffected() != 1 {
			return fmt.Errorf("product %d: %w", id, stock.ErrUnknownProduct)
		}
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (orders.Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) InsertOrder(ctx context.Context, o orders.Order) error {
	cust, lines, err := encodeDoc(o)
	if err != nil {
		return err
	}
	var ext any
	if o.ExternalID != "" {
		ext = o.ExternalID
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, customer, lines, status, created_at, processed_at,
			net_total, tax_rate, tax_amount, gross_total, note, split_from)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		o.ID, ext, cust, lines, string(o.Status), o.CreatedAt, o.ProcessedAt,
		o.NetTotal, o.TaxRate, o.TaxAmount, o.GrossTotal, o.Note, o.SplitFrom)
	return err
}

func (t *pgTx) UpdateOrder(ctx context.Context, o orders.Order) error {
	_, lines, err := encodeDoc(o)
	if err != nil {
		return err
	}
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET lines=$2, status=$3, processed_at=$4,
			net_total=$5, tax_rate=$6, tax_amount=$7, gross_total=$8, note=$9
		WHERE id=$1`,
		o.ID, lines, string(o.Status), o.ProcessedAt,
		o.NetTotal, o.TaxRate, o.TaxAmount, o.GrossTotal, o.Note)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteOrder(ctx context.Context, id string) error {
	ct, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrNotFound
	}
	return nil
}

func encodeDoc(o orders.Order) (cust, lines []byte, err error) {
	if cust, err = json.Marshal(o.Customer); err != nil {
		return nil, nil, err
	}
	if o.Lines == nil {
		o.Lines = []orders.Line{}
	}
	if lines, err = json.Marshal(o.Lines); err != nil {
		return nil, nil, err
	}
	return cust, lines, nil
}

func onHand(ctx context.Context, q querier, ids []stock.ProductID, lock bool) (map[stock.ProductID]int, error) {
	out := make(map[stock.ProductID]int, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	sql := `SELECT id, on_hand FROM products WHERE id = ANY($1) ORDER BY id`
	if lock {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, int64s(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  int64
			qty int
		)
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		out[stock.ProductID(id)] = qty
	}
	return out, rows.Err()
}

func int64s(ids []stock.ProductID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
