// Package store provides the shared database-access primitives used by every
// domain package: a narrow interface that both a pool and a transaction
// satisfy, plus small helpers used across stores.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, letting store methods
// run unmodified whether they're called standalone or inside a caller's
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EnsureAware normalizes a timestamp read back from the driver to UTC. pgx
// returns timestamptz columns as already-UTC time.Time values, but this
// guards against a naive (no-location) value slipping through from a
// misconfigured column or a future driver change.
func EnsureAware(t time.Time) time.Time {
	if t.Location() == time.UTC {
		return t
	}
	return t.UTC()
}
