// Package postgres provides the PostgreSQL-backed persistence for the entity
// store, the auth tables, and the audit trail. All statements are built with
// squirrel and executed over pgx.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgExecutor abstracts the pgx surface shared by pools and transactions so a
// repository can run inside or outside an explicit transaction.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
