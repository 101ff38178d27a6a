package database

import (
	"context"
	"strconv"
	"strings"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDB runs journal queries on a connection pool, so concurrent callers
// each get their own connection.
type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Dialect() Dialect {
	return DialectPostgres
}

func (db *PostgresDB) Close(ctx context.Context) error {
	db.pool.Close()
	return nil
}

func (db *PostgresDB) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := db.pool.Exec(ctx, rebind(sql), args...)
	return err
}

func (db *PostgresDB) QueryRowStruct(ctx context.Context, dest any, sql string, args ...any) error {
	return pgxscan.Get(ctx, db.pool, dest, rebind(sql), args...)
}

func (db *PostgresDB) QueryStruct(ctx context.Context, dest any, sql string, args ...any) error {
	return pgxscan.Select(ctx, db.pool, dest, rebind(sql), args...)
}

// rebind turns ? placeholders into $n, leaving quoted literals alone.
func rebind(sql string) string {
	var (
		b       strings.Builder
		n       int
		inQuote bool
	)
	b.Grow(len(sql) + 8)

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
