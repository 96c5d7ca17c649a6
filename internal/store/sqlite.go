package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukerupert/pocketmoney/internal/model"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface{ Scan(...any) error }

// sqliteQueries implements Queries against either the pool or a transaction.
type sqliteQueries struct {
	db dbtx
}

// SQLiteStore is the SQLite-backed Store. SQLite has a single writer, so
// WithTx relies on BEGIN IMMEDIATE (set in the DSN) for isolation and the
// ForUpdate lookups are plain reads.
type SQLiteStore struct {
	*sqliteQueries
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{sqliteQueries: &sqliteQueries{db: db}, db: db}
}

// DB exposes the underlying handle for maintenance tasks such as backups.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLite(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	if err := fn(&sqliteQueries{db: tx}); err != nil {
		return classifySQLite(err)
	}

	if err := tx.Commit(); err != nil {
		return classifySQLite(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// classifySQLite marks busy and locked database errors as concurrency
// conflicts so callers can retry them.
func classifySQLite(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", model.ErrConcurrencyConflict, err)
		}
	}
	return err
}
