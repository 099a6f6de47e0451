package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-stock-orders/internal/stock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	sqlstateSerialization = "40001"
	sqlstateDeadlock      = "40P01"
	sqlstateUnique        = "23505"
	sqlstateCheck         = "23514"
)

var serializable = pgx.TxOptions{IsoLevel: pgx.Serializable}

// inTx runs fn in a serializable transaction, rolled back on any error.
func inTx(ctx context.Context, db DB, fn func(tx pgx.Tx) error) error {
	tx, err := db.BeginTx(ctx, serializable)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return mapErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapErr(err)
	}
	return nil
}

// mapErr turns concurrent-write failures into stock.ErrStorageConflict while
// keeping the driver error in the chain. A tripped on_hand >= 0 check counts
// as a lost race too.
func mapErr(err error) error {
	var pg *pgconn.PgError
	if !errors.As(err, &pg) {
		return err
	}
	switch pg.Code {
	case sqlstateSerialization, sqlstateDeadlock, sqlstateUnique, sqlstateCheck:
		return fmt.Errorf("%w: %w", stock.ErrStorageConflict, err)
	}
	return err
}
