// Package storage persists notebooks in PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/aluiziolira/go-scrape-notebooks/config"
)

// ErrNotFound is returned when a fetch matches no row.
var ErrNotFound = errors.New("storage: not found")

// Gateway is the narrow set of database primitives the stores rely on.
type Gateway interface {
	// Execute runs a single statement and reports the affected row count.
	Execute(ctx context.Context, query string, args ...any) (int64, error)
	// ExecuteBatch runs query once per argument tuple in one transaction.
	ExecuteBatch(ctx context.Context, query string, rows [][]any) (int64, error)
	// FetchOne scans the first row into dest.
	FetchOne(ctx context.Context, dest any, query string, args ...any) error
	// FetchAll scans every row into dest, a pointer to a slice.
	FetchAll(ctx context.Context, dest any, query string, args ...any) error
	FetchRowAsTuple(ctx context.Context, query string, args ...any) ([]any, error)
	FetchRowAsMap(ctx context.Context, query string, args ...any) (map[string]any, error)
}

// DB implements Gateway on top of a sqlx connection pool.
type DB struct {
	db *sqlx.DB
}

var _ Gateway = (*DB)(nil)

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.DBName, err)
	}
	return NewDB(db), nil
}

// NewDB wraps an existing pool.
func NewDB(db *sqlx.DB) *DB {
	return &DB{db: db}
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := d.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res), nil
}

// ExecuteBatch prepares query once and executes it for every tuple. Any
// failure rolls back the whole batch.
func (d *DB) ExecuteBatch(ctx context.Context, query string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var total int64
	err := d.WithTransaction(ctx, func(ctx context.Context) error {
		stmt, err := txFromContext(ctx).PreparexContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare batch statement: %w", err)
		}
		defer stmt.Close()

		for i, args := range rows {
			res, err := stmt.ExecContext(ctx, args...)
			if err != nil {
				return fmt.Errorf("batch row %d: %w", i, err)
			}
			total += rowsAffected(res)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (d *DB) FetchOne(ctx context.Context, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, d.executor(ctx), dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (d *DB) FetchAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, d.executor(ctx), dest, query, args...)
}

// FetchRowAsTuple returns the first row as positional values.
func (d *DB) FetchRowAsTuple(ctx context.Context, query string, args ...any) ([]any, error) {
	rows, err := d.executor(ctx).QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return rows.SliceScan()
}

// FetchRowAsMap returns the first row keyed by column name.
func (d *DB) FetchRowAsMap(ctx context.Context, query string, args ...any) (map[string]any, error) {
	rows, err := d.executor(ctx).QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	out := make(map[string]any)
	if err := rows.MapScan(out); err != nil {
		return nil, err
	}
	return out, nil
}

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
