// Package store is the Postgres persistence layer shared by every
// component. It follows the same shape as channeldb.DB: a thin wrapper
// around the driver handle plus helper functions that thread a querier
// through instead of bolt.Tx, so the same query code runs standalone or
// inside a transaction (spec.md §5's "single transaction" requirements
// for chat fan-out and deal state transitions).
package store

import (
	"context"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting every
// query helper in this package run either standalone or within a
// transaction opened by WithTx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store is the primary datastore handle for the daemon. It holds the
// connection pool used for every component's persistence needs: deals,
// escrows, escrow_txns, storage, wallets.
type Store struct {
	Pool *pgxpool.Pool
}

// Open connects to Postgres at dsn and verifies connectivity.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.Pool.Close()
}

// WithTx runs fn inside a single database transaction, committing on a
// nil return and rolling back otherwise. Every multi-statement write in
// this codebase (chat fan-out, deal transitions, provisioner batches)
// goes through this helper, mirroring channeldb.DB.Update's closure-based
// transaction boundary.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
