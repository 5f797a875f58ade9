// Package storage implements the single logical SQL store the rest of the
// engines run on top of: schema migration, pooled connection access,
// concurrency-safe execution, and UTC time helpers. Two drivers are
// supported behind one contract — an embedded single-file SQLite engine
// and a generic Postgres engine — selected once at startup from the
// DATABASE_URL configuration key, mirroring the factory-by-config-value
// pattern the token store package uses for its own backend selection.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/shared-context/mcp-server/internal/apierr"
)

// Driver identifies which SQL engine a Backend is running against. A few
// engine-level queries (upsert, LIMIT/OFFSET placeholder style) differ
// between SQLite and Postgres, so callers that need that branch on Driver
// rather than re-detecting it from the DSN.
type Driver string

const (
	DriverSQLite   Driver = "sqlite3"
	DriverPostgres Driver = "postgres"
)

// Backend is the single logical SQL store used by every engine.
type Backend struct {
	db     *sqlx.DB
	driver Driver
}

// Open selects a driver from dsn's scheme and opens it: dsn starting with
// "postgres://" or "postgresql://" uses the generic Postgres driver,
// anything else (including the default "file:" form) uses the embedded
// SQLite driver.
func Open(ctx context.Context, dsn string) (*Backend, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return openPostgres(ctx, dsn)
	}
	return openSQLite(ctx, dsn)
}

func openSQLite(ctx context.Context, path string) (*Backend, error) {
	if path == "" {
		path = "shared_context.db"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := fmt.Sprintf("%s%s_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path, sep)
	db, err := sqlx.Open(string(DriverSQLite), dsn)
	if err != nil {
		return nil, apierr.New(apierr.StorageUnavailable, "cannot open storage backend").WithCause(err)
	}
	db.SetMaxOpenConns(1) // SQLite: one writer lane for the whole process.

	b := &Backend{db: db, driver: DriverSQLite}
	if err := b.ping(ctx); err != nil {
		return nil, err
	}
	if err := b.migrate(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func openPostgres(ctx context.Context, dsn string) (*Backend, error) {
	db, err := sqlx.Open(string(DriverPostgres), dsn)
	if err != nil {
		return nil, apierr.New(apierr.StorageUnavailable, "cannot open storage backend").WithCause(err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	b := &Backend{db: db, driver: DriverPostgres}
	if err := b.ping(ctx); err != nil {
		return nil, err
	}
	if err := b.migrate(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.db.PingContext(ctx); err != nil {
		return apierr.New(apierr.StorageUnavailable, "storage backend unreachable").WithCause(err)
	}
	return nil
}

// Close releases the pooled connection(s).
func (b *Backend) Close() error {
	return b.db.Close()
}

// Driver reports which SQL engine this backend is running.
func (b *Backend) Driver() Driver {
	return b.driver
}

// DB exposes the underlying handle for the rare engine query that needs
// driver-specific SQL (placeholder style, upsert syntax). Prefer Query /
// Execute / Insert / Transaction below where possible.
func (b *Backend) DB() *sqlx.DB {
	return b.db
}

// isBusyErr reports whether err represents a SQLite "database is locked"
// / busy-timeout condition, the only retryable storage failure.
func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return apierr.New(apierr.NotFound, "record not found").WithCause(err)
	}
	if isBusyErr(err) {
		return apierr.New(apierr.StorageBusy, "storage backend busy").
			WithRetryAfter(time.Second).WithCause(err)
	}
	return apierr.New(apierr.Internal, "storage operation failed").WithCause(err)
}
