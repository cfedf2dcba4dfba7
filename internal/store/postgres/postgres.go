// Package postgres implements the versioned keyed store on PostgreSQL.
// Aggregate snapshots live in a single records table; the version column is
// the optimistic-concurrency token and conditional UPDATEs are the arbiter
// between racing writers.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Bikxs/Skafu-sub001/internal/store"
)

// Store implements store.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New constructs a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// View runs fn inside a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(store.Txn) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(&pgTxn{ctx: ctx, tx: tx, forUpdate: false}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Update runs fn inside a read-write transaction. Reads take row locks so
// the version observed by fn cannot move underneath the conditional write.
func (s *Store) Update(ctx context.Context, fn func(store.Txn) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin write transaction: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(&pgTxn{ctx: ctx, tx: tx, forUpdate: true}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Ping verifies pool connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type pgTxn struct {
	ctx       context.Context
	tx        pgx.Tx
	forUpdate bool
}

func (t *pgTxn) Get(key string) ([]byte, uint64, error) {
	query := `SELECT value, version FROM records WHERE key = $1`
	if t.forUpdate {
		query += ` FOR UPDATE`
	}
	var value []byte
	var version int64
	if err := t.tx.QueryRow(t.ctx, query, key).Scan(&value, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, store.ErrNotFound
		}
		return nil, 0, err
	}
	return value, uint64(version), nil
}

func (t *pgTxn) Set(key string, value []byte, expectedVersion uint64) error {
	if expectedVersion == 0 {
		const query = `INSERT INTO records (key, value, version) VALUES ($1, $2, 1)`
		if _, err := t.tx.Exec(t.ctx, query, key, value); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return store.ErrVersionMismatch
			}
			return err
		}
		return nil
	}
	const query = `UPDATE records SET value = $2, version = version + 1
		WHERE key = $1 AND version = $3`
	tag, err := t.tx.Exec(t.ctx, query, key, value, int64(expectedVersion))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrVersionMismatch
	}
	return nil
}

func (t *pgTxn) Delete(key string) error {
	_, err := t.tx.Exec(t.ctx, `DELETE FROM records WHERE key = $1`, key)
	return err
}

func (t *pgTxn) Scan(prefix string, fn func(key string, value []byte) bool) error {
	rows, err := t.tx.Query(t.ctx,
		`SELECT key, value FROM records WHERE key LIKE $1 || '%' ORDER BY key`, prefix)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		if !fn(key, value) {
			return nil
		}
	}
	return rows.Err()
}
