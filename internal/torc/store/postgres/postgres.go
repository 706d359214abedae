// Package postgres implements store.Store on top of database/sql and
// lib/pq, following the query style of the payment module's
// repository: explicit column lists, $N placeholders, and sql.Null*
// for optional columns.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/torcsys/torc/internal/torc/store"
)

// queryer is satisfied by both *sql.DB and *sql.Tx, letting every
// entity method run unmodified whether or not it is inside WithTx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// impl holds the entity methods; a Store wraps one bound to *sql.DB,
// WithTx hands callers one bound to the open *sql.Tx.
type impl struct {
	q queryer
}

// Store is the Postgres-backed store.Store implementation.
type Store struct {
	*impl
	db *sql.DB
}

// New opens the Store against an already-connected *sql.DB. Connection
// pooling and migrations are the caller's responsibility (out of
// scope for the core per the external-interfaces contract).
func New(db *sql.DB) *Store {
	return &Store{impl: &impl{q: db}, db: db}
}

// WithTx runs fn inside a single database transaction, committing on a
// nil return and rolling back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	txImpl := &impl{q: sqlTx}
	if err := fn(txImpl); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("tx failed: %w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
