// Package store is the station node's Postgres-backed persistence layer. It
// provides serializable multi-statement transactions and row-level
// conditional updates for the entities in spec.md §3.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/louaj-station/local-node/internal/apperr"
)

// pgSerializationFailure is the SQLSTATE Postgres raises when a SERIALIZABLE
// transaction cannot be placed in any serial order with its concurrent
// peers; see https://www.postgresql.org/docs/current/errcodes-appendix.html.
const pgSerializationFailure = "40001"

// translateSerializationFailure maps a raw Postgres serialization failure
// onto apperr.CodeConcurrentConflict so callers never have to know the
// driver-level SQLSTATE. Any other error passes through unchanged.
func translateSerializationFailure(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgSerializationFailure {
		return apperr.Wrap(apperr.CodeConcurrentConflict, "serialization failure, retry the transaction", err)
	}
	return err
}

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx, letting store methods
// run against either a bare connection or an active transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// DB is the station node's handle on Postgres. It is one of the three
// process-scoped singletons permitted by spec.md §9.
type DB struct {
	conn *sqlx.DB
}

// Open connects to Postgres, verifies connectivity, and applies pool limits.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle int) (*DB, error) {
	conn, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpen > 0 {
		conn.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		conn.SetMaxIdleConns(maxIdle)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &DB{conn: conn}, nil
}

// NewDB wraps an already-open *sqlx.DB, letting tests inject a sqlmock
// connection without dialing Postgres.
func NewDB(conn *sqlx.DB) *DB { return &DB{conn: conn} }

// Close releases the underlying connection pool.
func (d *DB) Close() error { return d.conn.Close() }

// Raw exposes the underlying *sqlx.DB for components (migrations) that need it.
func (d *DB) Raw() *sqlx.DB { return d.conn }

type txKey struct{}

// querier returns the active transaction from ctx, or the pooled connection.
func (d *DB) querier(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return d.conn
}

// WithSerializableTx runs fn inside a SERIALIZABLE transaction, committing on
// success and rolling back on error or panic. Callers that receive
// apperr.CodeConcurrentConflict (from a Postgres serialization failure, or
// from a row-level CAS miss inside fn) are expected to retry once per
// spec.md §7.
func (d *DB) WithSerializableTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := d.conn.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin serializable tx: %w", err)
	}
	txCtx := context.WithValue(ctx, txKey{}, tx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(txCtx); err != nil {
		_ = tx.Rollback()
		return translateSerializationFailure(err)
	}
	if err = tx.Commit(); err != nil {
		if translated := translateSerializationFailure(err); apperr.Is(translated, apperr.CodeConcurrentConflict) {
			return translated
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
