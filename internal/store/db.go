package store

import (
	"context"
	"database/sql"
)

// DBTX is the query surface the Postgres stores need. *sql.DB and *sql.Tx
// both satisfy it, so a store can run inside a caller's transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
