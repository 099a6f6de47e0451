package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/stock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	lockStock  = regexp.QuoteMeta(`SELECT id, on_hand FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`)
	decrement  = regexp.QuoteMeta(`UPDATE products SET on_hand = on_hand - $2`)
	restock    = regexp.QuoteMeta(`UPDATE products SET on_hand = on_hand + $2`)
	txSettings = pgx.TxOptions{IsoLevel: pgx.Serializable}
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, &Store{DB: mock}
}

func TestDecrementIfSufficient_AppliesAfterLockingInIDOrder(t *testing.T) {
	mock, st := newMock(t)
	l := &stock.Ledger{Backend: st}

	mock.ExpectBeginTx(txSettings)
	mock.ExpectQuery(lockStock).WithArgs([]int64{1, 2}).
		WillReturnRows(mock.NewRows([]string{"id", "on_hand"}).AddRow(int64(1), 5).AddRow(int64(2), 2))
	mock.ExpectExec(decrement).WithArgs(int64(1), 3).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(decrement).WithArgs(int64(2), 1).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	ok, err := l.DecrementIfSufficient(context.Background(), stock.Request{2: 1, 1: 3})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecrementIfSufficient_ShortfallWritesNothing(t *testing.T) {
	mock, st := newMock(t)
	l := &stock.Ledger{Backend: st}

	mock.ExpectBeginTx(txSettings)
	mock.ExpectQuery(lockStock).WithArgs([]int64{1, 2}).
		WillReturnRows(mock.NewRows([]string{"id", "on_hand"}).AddRow(int64(1), 5).AddRow(int64(2), 1))
	mock.ExpectRollback()

	ok, err := l.DecrementIfSufficient(context.Background(), stock.Request{1: 3, 2: 2})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecrementIfSufficient_RowChangedUnderLock(t *testing.T) {
	mock, st := newMock(t)

	mock.ExpectBeginTx(txSettings)
	mock.ExpectQuery(lockStock).WithArgs([]int64{4}).
		WillReturnRows(mock.NewRows([]string{"id", "on_hand"}).AddRow(int64(4), 9))
	mock.ExpectExec(decrement).WithArgs(int64(4), 2).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := st.StockTx(context.Background(), func(w stock.Writer) error {
		_, err := w.DecrementIfSufficient(context.Background(), stock.Request{4: 2})
		return err
	})
	assert.ErrorIs(t, err, stock.ErrStorageConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestock_UnknownProductRollsBack(t *testing.T) {
	mock, st := newMock(t)
	l := &stock.Ledger{Backend: st}

	mock.ExpectBeginTx(txSettings)
	mock.ExpectExec(restock).WithArgs(int64(1), 4).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(restock).WithArgs(int64(9), 1).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := l.Restock(context.Background(), stock.Request{1: 4, 9: 1})
	assert.ErrorIs(t, err, stock.ErrUnknownProduct)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSerializationFailureIsStorageConflict(t *testing.T) {
	mock, st := newMock(t)
	l := &stock.Ledger{Backend: st}

	mock.ExpectBeginTx(txSettings)
	mock.ExpectExec(restock).WithArgs(int64(1), 1).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: sqlstateSerialization})

	err := l.Restock(context.Background(), stock.Request{1: 1})
	assert.ErrorIs(t, err, stock.ErrStorageConflict)

	var pg *pgconn.PgError
	require.True(t, errors.As(err, &pg))
	assert.Equal(t, "40001", pg.Code)
}

func TestMapErr(t *testing.T) {
	for _, code := range []string{"40001", "40P01", "23505", "23514"} {
		assert.ErrorIs(t, mapErr(&pgconn.PgError{Code: code}), stock.ErrStorageConflict, code)
	}
	assert.NotErrorIs(t, mapErr(&pgconn.PgError{Code: "42P01"}), stock.ErrStorageConflict)

	plain := errors.New("boom")
	assert.Same(t, plain, mapErr(plain))
}

func TestOrder_NotFound(t *testing.T) {
	mock, st := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM orders WHERE id=$1`)).WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := st.Order(context.Background(), "missing")
	assert.ErrorIs(t, err, orders.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrders_BuildsFilter(t *testing.T) {
	mock, st := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM orders WHERE status=$1 AND customer->>'id'=$2 ORDER BY created_at DESC, id LIMIT $3`)).
		WithArgs("shipped", "c1", 20).
		WillReturnRows(mock.NewRows([]string{"id"}))

	got, err := st.Orders(context.Background(), orders.Filter{Status: orders.StatusShipped, CustomerID: "c1", Limit: 20})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOnHand_SkipsQueryForNoIDs(t *testing.T) {
	mock, st := newMock(t)

	got, err := st.OnHand(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProduct_KeepsOnHand(t *testing.T) {
	mock, st := newMock(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO products(id, name, code, color, on_hand)`)).
		WithArgs(int64(3), "Bracket", "BR-3", "black").
		WillReturnRows(mock.NewRows([]string{"on_hand", "updated_at"}).AddRow(17, now))

	p, err := st.UpsertProduct(context.Background(), stock.Product{ID: 3, Name: "Bracket", Code: "BR-3", Color: "black", OnHand: 999})
	require.NoError(t, err)
	assert.Equal(t, 17, p.OnHand)
	assert.Equal(t, now, p.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProduct_Unknown(t *testing.T) {
	mock, st := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM products WHERE id=$1`)).WithArgs(int64(8)).
		WillReturnError(pgx.ErrNoRows)

	_, err := st.Product(context.Background(), 8)
	assert.ErrorIs(t, err, stock.ErrUnknownProduct)
}

func TestMigrate(t *testing.T) {
	mock, _ := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS products`)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, Migrate(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}
