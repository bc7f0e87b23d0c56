// Package memory provides in-memory implementations of storage ports,
// used in tests and single-process deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/usagekit/usagekit/domain/quota"
	"github.com/usagekit/usagekit/ports"
)

// UsageStore is an in-memory implementation of ports.UsageStore. The
// mutex gives the same no-lost-updates guarantee the SQLite upsert does.
type UsageStore struct {
	mu      sync.RWMutex
	records map[string]quota.Record

	// FailGet / FailIncrement force errors for fail-open tests.
	FailGet       error
	FailIncrement error
}

// NewUsageStore creates a new in-memory usage store.
func NewUsageStore() *UsageStore {
	return &UsageStore{records: make(map[string]quota.Record)}
}

// Get retrieves the current record for an identity.
func (s *UsageStore) Get(ctx context.Context, identityID string) (quota.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailGet != nil {
		return quota.Record{}, s.FailGet
	}
	return s.records[identityID], nil
}

// Increment atomically applies delta for the given period and returns the
// new record.
func (s *UsageStore) Increment(ctx context.Context, identityID, periodKey string, delta int64) (quota.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailIncrement != nil {
		return quota.Record{}, s.FailIncrement
	}

	rec := s.records[identityID]
	if rec.PeriodKey != periodKey {
		rec = quota.Record{PeriodKey: periodKey}
	}
	rec.Count += delta
	s.records[identityID] = rec
	return rec, nil
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)

// TransferLedger is an in-memory implementation of ports.TransferLedger.
type TransferLedger struct {
	mu       sync.Mutex
	reserved map[string]string
}

// NewTransferLedger creates a new in-memory transfer ledger.
func NewTransferLedger() *TransferLedger {
	return &TransferLedger{reserved: make(map[string]string)}
}

// Reserve records a token digest; a duplicate digest returns
// ErrDuplicateTransfer.
func (l *TransferLedger) Reserve(ctx context.Context, digest, identityID string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.reserved[digest]; ok {
		return ports.ErrDuplicateTransfer
	}
	l.reserved[digest] = identityID
	return nil
}

// Release undoes a reservation whose credit failed.
func (l *TransferLedger) Release(ctx context.Context, digest string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.reserved, digest)
	return nil
}

// Ensure interface compliance.
var _ ports.TransferLedger = (*TransferLedger)(nil)
