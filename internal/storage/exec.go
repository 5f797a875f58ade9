package storage

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Conn is the narrow interface both *sqlx.DB and *sqlx.Tx satisfy, so
// engine code can run the same helper against either.
type Conn interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
}

// WithConnection hands fn the pooled connection. For SQLite this is the
// single shared *sqlx.DB (one writer lane); for Postgres it is the
// pool, concurrency-limited by SetMaxOpenConns.
func (b *Backend) WithConnection(ctx context.Context, fn func(Conn) error) error {
	return withRetry(ctx, func() error {
		return translateErr(fn(b.db))
	})
}

// Query runs a SELECT and scans all rows into dest (a pointer to a slice).
func (b *Backend) Query(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return b.WithConnection(ctx, func(c Conn) error {
		return c.SelectContext(ctx, dest, b.rebind(query), args...)
	})
}

// Get runs a SELECT expected to return at most one row.
func (b *Backend) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return b.WithConnection(ctx, func(c Conn) error {
		return c.GetContext(ctx, dest, b.rebind(query), args...)
	})
}

// Execute runs an INSERT/UPDATE/DELETE and returns the affected row count.
func (b *Backend) Execute(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var affected int64
	err := b.WithConnection(ctx, func(c Conn) error {
		res, err := c.ExecContext(ctx, b.rebind(query), args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// Insert runs an INSERT and returns the new row's integer id. SQLite uses
// LastInsertId; on Postgres (which has no LastInsertId) a "RETURNING id"
// clause is appended automatically if the query doesn't already carry one.
func (b *Backend) Insert(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var id int64
	err := b.WithConnection(ctx, func(c Conn) error {
		if b.driver == DriverPostgres {
			q := query
			if !strings.Contains(strings.ToUpper(q), "RETURNING") {
				q = q + " RETURNING id"
			}
			return c.QueryRowxContext(ctx, b.rebind(q), args...).Scan(&id)
		}
		res, err := c.ExecContext(ctx, b.rebind(query), args...)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// Transaction runs fn inside a transaction, committing on a nil return
// and rolling back on any error (including a panic, which is re-raised
// after rollback).
func (b *Backend) Transaction(ctx context.Context, fn func(Conn) error) (err error) {
	return withRetry(ctx, func() error {
		tx, txErr := b.db.BeginTxx(ctx, nil)
		if txErr != nil {
			return translateErr(txErr)
		}
		defer func() {
			if p := recover(); p != nil {
				_ = tx.Rollback()
				panic(p)
			}
		}()

		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return translateErr(err)
		}
		if err := tx.Commit(); err != nil {
			return translateErr(err)
		}
		return nil
	})
}

// rebind adapts a query written with "?" placeholders to the driver's
// native placeholder style (Postgres wants "$1", "$2", ...).
func (b *Backend) rebind(query string) string {
	return b.db.Rebind(query)
}
