package badgerstore

import (
	"context"
	"errors"
	"testing"

	"github.com/Bikxs/Skafu-sub001/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConditionalCreateAndUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Update(ctx, func(txn store.Txn) error {
		return txn.Set("project/p1", []byte("v1"), 0)
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := s.Update(ctx, func(txn store.Txn) error {
		return txn.Set("project/p1", []byte("again"), 0)
	})
	if !errors.Is(err, store.ErrVersionMismatch) {
		t.Fatalf("create over existing key should mismatch, got %v", err)
	}

	if err := s.View(ctx, func(txn store.Txn) error {
		value, version, err := txn.Get("project/p1")
		if err != nil {
			return err
		}
		if string(value) != "v1" || version != 1 {
			t.Fatalf("got value=%q version=%d", value, version)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}

	if err := s.Update(ctx, func(txn store.Txn) error {
		return txn.Set("project/p1", []byte("v2"), 1)
	}); err != nil {
		t.Fatalf("update at version 1: %v", err)
	}

	err = s.Update(ctx, func(txn store.Txn) error {
		return txn.Set("project/p1", []byte("stale"), 1)
	})
	if !errors.Is(err, store.ErrVersionMismatch) {
		t.Fatalf("stale update should mismatch, got %v", err)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := openTestStore(t)
	err := s.View(context.Background(), func(txn store.Txn) error {
		_, _, err := txn.Get("missing")
		return err
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Update(ctx, func(txn store.Txn) error {
		if err := txn.Set("k", []byte("v"), 0); err != nil {
			return err
		}
		return txn.Delete("k")
	}); err != nil {
		t.Fatalf("set+delete: %v", err)
	}
	if err := s.Update(ctx, func(txn store.Txn) error {
		return txn.Delete("k")
	}); err != nil {
		t.Fatalf("delete of missing key should not error: %v", err)
	}
}

func TestScanPrefix(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Update(ctx, func(txn store.Txn) error {
		for _, key := range []string{"outbox/1", "outbox/2", "project/p1"} {
			if err := txn.Set(key, []byte(key), 0); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var keys []string
	if err := s.View(ctx, func(txn store.Txn) error {
		return txn.Scan("outbox/", func(key string, value []byte) bool {
			keys = append(keys, key)
			return true
		})
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 outbox keys, got %v", keys)
	}
}
