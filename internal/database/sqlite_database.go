package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDB is the embedded journal store used when no PostgreSQL DSN is set.
type SQLiteDB struct {
	db *bun.DB
}

func NewSQLite(path string) (DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	sqldb, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	sqldb.SetConnMaxLifetime(15 * time.Minute)

	if err := sqldb.Ping(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	return &SQLiteDB{db: bun.NewDB(sqldb, sqlitedialect.New())}, nil
}

func (db *SQLiteDB) Dialect() Dialect {
	return DialectSQLite
}

func (db *SQLiteDB) Close(ctx context.Context) error {
	return db.db.Close()
}

func (db *SQLiteDB) Exec(ctx context.Context, query string, args ...any) error {
	_, err := db.db.ExecContext(ctx, query, args...)
	return err
}

func (db *SQLiteDB) QueryRowStruct(ctx context.Context, dest any, query string, args ...any) error {
	return db.db.NewRaw(query, args...).Scan(ctx, dest)
}

func (db *SQLiteDB) QueryStruct(ctx context.Context, dest any, query string, args ...any) error {
	return db.db.NewRaw(query, args...).Scan(ctx, dest)
}
