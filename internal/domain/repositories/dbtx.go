package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so repositories
// run the same SQL inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txContextKey struct{}

// SetTx stores a transaction in the context
func SetTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// GetTx retrieves a transaction from the context, or nil
func GetTx(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txContextKey{}).(pgx.Tx)
	return tx
}

// InTx reports whether ctx carries a transaction of any backend.
// In-memory stores mark their transactions with MarkTx.
func InTx(ctx context.Context) bool {
	if GetTx(ctx) != nil {
		return true
	}
	_, ok := ctx.Value(memTxKey{}).(bool)
	return ok
}

type memTxKey struct{}

// MarkTx flags ctx as running inside a non-pgx transaction.
func MarkTx(ctx context.Context) context.Context {
	return context.WithValue(ctx, memTxKey{}, true)
}
