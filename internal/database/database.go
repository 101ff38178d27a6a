// Package database opens the journal store behind a small query interface.
package database

import (
	"context"
	"strings"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DB runs queries written with ? placeholders.
type DB interface {
	Dialect() Dialect
	Exec(ctx context.Context, sql string, args ...any) error
	QueryRowStruct(ctx context.Context, dest any, sql string, args ...any) error
	QueryStruct(ctx context.Context, dest any, sql string, args ...any) error
	Close(ctx context.Context) error
}

// Open picks the backend from the DSN: postgres:// or postgresql:// URLs use
// PostgreSQL, anything else is a SQLite file path (an optional sqlite:// prefix
// is stripped).
func Open(ctx context.Context, dsn string) (DB, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgres(ctx, dsn)
	default:
		return NewSQLite(strings.TrimPrefix(dsn, "sqlite://"))
	}
}
