package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/usagekit/usagekit/ports"
)

// TransferLedger implements ports.TransferLedger on SQLite. The digest
// primary key makes the reservation insert-if-absent, which is the whole
// dedup mechanism for anonymous-to-authenticated merges.
type TransferLedger struct {
	db *DB
}

// NewTransferLedger creates a new SQLite transfer ledger.
func NewTransferLedger(db *DB) *TransferLedger {
	return &TransferLedger{db: db}
}

// Reserve records a token digest against an identity. A digest that was
// already reserved (by any identity) returns ErrDuplicateTransfer.
func (l *TransferLedger) Reserve(ctx context.Context, digest, identityID string, at time.Time) error {
	result, err := l.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO transfer_keys (digest, identity_id, created_at)
		VALUES (?, ?, ?)
	`, digest, identityID, at.UTC())
	if err != nil {
		return fmt.Errorf("reserve transfer: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve transfer: %w", err)
	}
	if n == 0 {
		return ports.ErrDuplicateTransfer
	}
	return nil
}

// Release undoes a reservation whose credit failed.
func (l *TransferLedger) Release(ctx context.Context, digest string) error {
	if _, err := l.db.ExecContext(ctx, `
		DELETE FROM transfer_keys WHERE digest = ?
	`, digest); err != nil {
		return fmt.Errorf("release transfer: %w", err)
	}
	return nil
}

// Ensure interface compliance.
var _ ports.TransferLedger = (*TransferLedger)(nil)
