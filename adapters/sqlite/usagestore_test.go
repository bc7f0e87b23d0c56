package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/usagekit/usagekit/ports"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func TestUsageStoreGetMissingRow(t *testing.T) {
	s := NewUsageStore(testDB(t))

	rec, err := s.Get(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !rec.Zero() {
		t.Errorf("missing row = %+v, want zero record", rec)
	}
}

func TestUsageStoreIncrement(t *testing.T) {
	s := NewUsageStore(testDB(t))
	ctx := context.Background()

	rec, err := s.Increment(ctx, "user_1", "2025-06-15", 1)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if rec.Count != 1 || rec.PeriodKey != "2025-06-15" {
		t.Errorf("rec = %+v", rec)
	}

	// Same period accumulates; the delta path is shared with transfers.
	rec, _ = s.Increment(ctx, "user_1", "2025-06-15", 3)
	if rec.Count != 4 {
		t.Errorf("count = %d, want 4", rec.Count)
	}

	// New period restarts at the delta.
	rec, _ = s.Increment(ctx, "user_1", "2025-06-16", 1)
	if rec.Count != 1 || rec.PeriodKey != "2025-06-16" {
		t.Errorf("rec = %+v, want restart in new period", rec)
	}

	got, _ := s.Get(ctx, "user_1")
	if got != rec {
		t.Errorf("Get = %+v, want %+v", got, rec)
	}
}

func TestUsageStoreConcurrentIncrements(t *testing.T) {
	s := NewUsageStore(testDB(t))
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Increment(ctx, "user_1", "2025-06-15", 1); err != nil {
				t.Errorf("Increment: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, err := s.Get(ctx, "user_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Count != n {
		t.Errorf("count = %d, want %d (no lost updates)", rec.Count, n)
	}
}

func TestUsageStoreCleanupOldPeriods(t *testing.T) {
	s := NewUsageStore(testDB(t))
	ctx := context.Background()

	s.Increment(ctx, "user_1", "2025-06-10", 5)
	s.Increment(ctx, "user_2", "2025-06-15", 2)

	removed, err := s.CleanupOldPeriods(ctx, "2025-06-12")
	if err != nil {
		t.Fatalf("CleanupOldPeriods: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	rec, _ := s.Get(ctx, "user_2")
	if rec.Count != 2 {
		t.Errorf("current row touched by cleanup: %+v", rec)
	}
}

func TestTransferLedgerReserve(t *testing.T) {
	db := testDB(t)
	l := NewTransferLedger(db)
	ctx := context.Background()
	at := time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)

	if err := l.Reserve(ctx, "digest-a", "user_1", at); err != nil {
		t.Fatalf("first Reserve: %v", err)
	}

	// Same digest, any identity: duplicate.
	err := l.Reserve(ctx, "digest-a", "user_2", at)
	if !errors.Is(err, ports.ErrDuplicateTransfer) {
		t.Errorf("err = %v, want ErrDuplicateTransfer", err)
	}

	// Released digests can be reserved again.
	if err := l.Release(ctx, "digest-a"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Reserve(ctx, "digest-a", "user_1", at); err != nil {
		t.Errorf("Reserve after release: %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}
