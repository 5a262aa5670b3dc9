// Package store is the SQL persistence layer. Functions take an explicit
// *sql.DB or *sql.Tx; nothing in this package opens network connections
// other than to the database.
package store

import (
	"context"
	"database/sql"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, for reads that may run
// standalone or inside a caller-owned transaction.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
