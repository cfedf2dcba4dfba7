// Package badgerstore implements the versioned keyed store on embedded
// BadgerDB. It backs local development and tests; production deployments
// use the postgres driver.
package badgerstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/Bikxs/Skafu-sub001/internal/store"
)

// Store wraps a badger database.
type Store struct {
	db *badger.DB
}

// Open creates a disk-backed store at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = newBadgerLogger(logger)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory creates an in-memory store, used by tests and dev mode.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger store: %w", err)
	}
	return &Store{db: db}, nil
}

// View runs a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(store.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTxn{txn: txn})
	})
}

// Update runs a read-write transaction. Badger transactions are
// serializable, so the version check inside the transaction is authoritative.
func (s *Store) Update(ctx context.Context, fn func(store.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTxn{txn: txn})
	})
	if errors.Is(err, badger.ErrConflict) {
		return store.ErrVersionMismatch
	}
	return err
}

// Ping reports whether the database is open.
func (s *Store) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger store closed")
	}
	return ctx.Err()
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// badgerTxn adapts a badger transaction to store.Txn. Values carry their
// version as an 8-byte big-endian prefix.
type badgerTxn struct {
	txn *badger.Txn
}

func (t *badgerTxn) Get(key string) ([]byte, uint64, error) {
	item, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, 0, store.ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, 0, err
	}
	return decodeVersioned(raw)
}

func (t *badgerTxn) Set(key string, value []byte, expectedVersion uint64) error {
	_, current, err := t.Get(key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		current = 0
	case err != nil:
		return err
	}
	if current != expectedVersion {
		return store.ErrVersionMismatch
	}
	return t.txn.Set([]byte(key), encodeVersioned(value, expectedVersion+1))
}

func (t *badgerTxn) Delete(key string) error {
	return t.txn.Delete([]byte(key))
}

func (t *badgerTxn) Scan(prefix string, fn func(key string, value []byte) bool) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := t.txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		value, _, err := decodeVersioned(raw)
		if err != nil {
			return err
		}
		if !fn(string(item.Key()), value) {
			return nil
		}
	}
	return nil
}

func encodeVersioned(value []byte, version uint64) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf, version)
	copy(buf[8:], value)
	return buf
}

func decodeVersioned(raw []byte) ([]byte, uint64, error) {
	if len(raw) < 8 {
		return nil, 0, fmt.Errorf("corrupt versioned record of %d bytes", len(raw))
	}
	return raw[8:], binary.BigEndian.Uint64(raw[:8]), nil
}

// badgerLogger adapts slog to badger's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func newBadgerLogger(logger *slog.Logger) badger.Logger {
	if logger == nil {
		return nil
	}
	return &badgerLogger{logger: logger}
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
