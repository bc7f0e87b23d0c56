package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/usagekit/usagekit/domain/quota"
	"github.com/usagekit/usagekit/ports"
)

// UsageStore implements ports.UsageStore on SQLite. The usage row is the
// only shared mutable resource in the core, so every mutation goes through
// one conditional upsert - the increment path and the transfer path share
// it, and a read-modify-write race cannot drop an increment.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates a new SQLite usage store.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// Get retrieves the current record for an identity. A missing row is an
// implicit zero record.
func (s *UsageStore) Get(ctx context.Context, identityID string) (quota.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT count, period_key FROM usage_daily WHERE identity_id = ?
	`, identityID)

	var rec quota.Record
	err := row.Scan(&rec.Count, &rec.PeriodKey)
	if err == sql.ErrNoRows {
		return quota.Record{}, nil
	}
	if err != nil {
		return quota.Record{}, fmt.Errorf("get usage: %w", err)
	}
	return rec, nil
}

// Increment atomically applies delta for the given period and returns the
// new record. A stored row from an earlier period restarts at delta; the
// CASE runs inside the upsert so there is no read-then-write window.
func (s *UsageStore) Increment(ctx context.Context, identityID, periodKey string, delta int64) (quota.Record, error) {
	now := time.Now().UTC()

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO usage_daily (identity_id, period_key, count, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity_id) DO UPDATE SET
			count = CASE WHEN usage_daily.period_key = excluded.period_key
				THEN usage_daily.count + excluded.count
				ELSE excluded.count END,
			period_key = excluded.period_key,
			last_updated = excluded.last_updated
		RETURNING count, period_key
	`, identityID, periodKey, delta, now)

	var rec quota.Record
	if err := row.Scan(&rec.Count, &rec.PeriodKey); err != nil {
		return quota.Record{}, fmt.Errorf("increment usage: %w", err)
	}
	return rec, nil
}

// CleanupOldPeriods deletes rows whose period is older than the cutoff
// key. Stale rows are semantically zero and never read back, so this only
// reclaims space.
func (s *UsageStore) CleanupOldPeriods(ctx context.Context, cutoffKey string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM usage_daily WHERE period_key < ?
	`, cutoffKey)
	if err != nil {
		return 0, fmt.Errorf("cleanup usage: %w", err)
	}
	return result.RowsAffected()
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
