// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/usagekit/usagekit/domain/identity"
	"github.com/usagekit/usagekit/domain/metering"
	"github.com/usagekit/usagekit/domain/quota"
)

// -----------------------------------------------------------------------------
// Sentinel errors
// -----------------------------------------------------------------------------

// ErrDuplicateTransfer signals that an anonymous token has already been
// credited to some identity.
var ErrDuplicateTransfer = errors.New("transfer already applied")

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// UsageStore persists per-identity daily usage for authenticated
// principals. This row is the only truly shared mutable resource in the
// core; every mutation goes through Increment's atomic conditional update,
// never through separate read-then-write.
type UsageStore interface {
	// Get retrieves the current record for an identity. A missing row
	// returns a zero record, not ErrNotFound.
	Get(ctx context.Context, identityID string) (quota.Record, error)

	// Increment atomically applies delta for the given period and returns
	// the new record. If the stored period differs from periodKey the
	// counter restarts at delta. Safe under concurrent calls for the same
	// identity; used by both the increment path and the transfer path.
	Increment(ctx context.Context, identityID, periodKey string, delta int64) (quota.Record, error)
}

// TransferLedger records which anonymous tokens have already been merged,
// keyed by a digest of the token. Reserve is insert-if-absent: the second
// reservation of the same digest returns ErrDuplicateTransfer.
type TransferLedger interface {
	Reserve(ctx context.Context, digest, identityID string, at time.Time) error

	// Release undoes a reservation whose credit failed, so a retry can
	// re-attempt the merge. Best-effort: if the release itself fails the
	// token under-credits on retry, which is preferred over a double
	// credit.
	Release(ctx context.Context, digest string) error
}

// DecisionCache caches read-path decisions per caller. Implementations
// must treat misses and backend failures identically (cache is advisory).
type DecisionCache interface {
	Get(key string) (quota.Decision, bool)
	Set(key string, d quota.Decision)
	Invalidate(key string)
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// IdentityResolver looks up subscription state for an authenticated
// principal. Failures on the read path are absorbed into a fail-open
// decision by the caller, never surfaced.
type IdentityResolver interface {
	Resolve(ctx context.Context, identityID string) (identity.Subscription, error)
}

// Ledger delivers billable usage events to the external billing system.
// Idempotency across retries of the same event is the ledger's
// responsibility (events carry stable IDs for that purpose).
type Ledger interface {
	// Publish sends a batch of events. Partial failure fails the batch.
	Publish(ctx context.Context, events []metering.Event) error
}

// -----------------------------------------------------------------------------
// Event Ports
// -----------------------------------------------------------------------------

// MeterRecorder accepts billable events for async delivery to the ledger.
type MeterRecorder interface {
	// Record queues an event. Non-blocking; delivery is best-effort and
	// never reported back to the request path.
	Record(event metering.Event)

	// Flush forces immediate delivery of queued events.
	Flush(ctx context.Context) error

	// Close stops the recorder and drains remaining events.
	Close() error
}
