package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const DBTxKey contextKey = "db_tx"

// TxFromContext returns the transaction opened by RunInTx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the clinic-scoped connection in ctx.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, errors.New("no database connection in context")
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// TxRunner runs fn so that every repository call made with the context it
// receives shares one transaction.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// NoTx runs fn directly. Services use it when no database is wired, as in tests.
func NoTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// NewTxRunner opens transactions on the request connection when there is
// one, otherwise on a pooled connection. Nested calls reuse the outer transaction.
func NewTxRunner(pool *pgxpool.Pool) TxRunner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		if TxFromContext(ctx) != nil {
			return fn(ctx)
		}

		var tx pgx.Tx
		var err error
		if conn := ConnFromContext(ctx); conn != nil {
			ctx, tx, err = WithTx(ctx)
		} else {
			tx, err = pool.Begin(ctx)
			if err == nil {
				ctx = context.WithValue(ctx, DBTxKey, tx)
			}
		}
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(ctx); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}
}
