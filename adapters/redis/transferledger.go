package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/usagekit/usagekit/ports"
)

// reservationTTL bounds how long a token digest is remembered. Tokens are
// day-scoped: one that outlives this window decodes to a stale period and
// credits zero regardless, so the reservation no longer matters.
const reservationTTL = 7 * 24 * time.Hour

// TransferLedger implements ports.TransferLedger on Redis via SETNX.
type TransferLedger struct {
	client *redis.Client
	prefix string
}

// NewTransferLedger creates a Redis transfer ledger.
func NewTransferLedger(client *redis.Client) *TransferLedger {
	return &TransferLedger{client: client, prefix: "transfer:"}
}

// Reserve records a token digest against an identity. An already-reserved
// digest returns ErrDuplicateTransfer.
func (l *TransferLedger) Reserve(ctx context.Context, digest, identityID string, at time.Time) error {
	ok, err := l.client.SetNX(ctx, l.prefix+digest, identityID, reservationTTL).Result()
	if err != nil {
		return fmt.Errorf("reserve transfer: %w", err)
	}
	if !ok {
		return ports.ErrDuplicateTransfer
	}
	return nil
}

// Release undoes a reservation whose credit failed.
func (l *TransferLedger) Release(ctx context.Context, digest string) error {
	if err := l.client.Del(ctx, l.prefix+digest).Err(); err != nil {
		return fmt.Errorf("release transfer: %w", err)
	}
	return nil
}

// Ensure interface compliance.
var _ ports.TransferLedger = (*TransferLedger)(nil)
