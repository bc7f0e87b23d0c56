package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/usagekit/usagekit/domain/quota"
	"github.com/usagekit/usagekit/domain/token"
	"github.com/usagekit/usagekit/ports"
)

// ErrNoIdentity is returned when a transfer is requested without a
// resolved authenticated identity. That is a caller-contract violation,
// not a transient condition, and is rejected outright.
var ErrNoIdentity = errors.New("transfer requires an authenticated identity")

// TransferService performs the one-time merge of anonymous usage into an
// authenticated identity at sign-in.
//
// Idempotency does not rest on clearing the client token: a digest of the
// token is reserved in the transfer ledger before any credit, so a replay
// of the same token - including the retry after a credit whose clear
// signal was lost - credits nothing.
type TransferService struct {
	store  ports.UsageStore
	ledger ports.TransferLedger
	clock  ports.Clock
	logger zerolog.Logger
}

// NewTransferService creates a new transfer service.
func NewTransferService(store ports.UsageStore, ledger ports.TransferLedger, clock ports.Clock, logger zerolog.Logger) *TransferService {
	return &TransferService{store: store, ledger: ledger, clock: clock, logger: logger}
}

// TransferResult reports the outcome of a merge.
type TransferResult struct {
	// TransferredUnits is the usage credited to the identity; zero when
	// there was nothing to merge or the token was already merged.
	TransferredUnits int64

	// ClearToken tells the caller the anonymous token may be discarded
	// from client storage. False only when the credit failed and a retry
	// must still find the token intact.
	ClearToken bool
}

// Transfer merges the usage carried by an anonymous token into the
// authenticated identity's current period.
func (s *TransferService) Transfer(ctx context.Context, anonToken, identityID string) (TransferResult, error) {
	if identityID == "" {
		return TransferResult{}, ErrNoIdentity
	}

	now := s.clock.Now()
	today := quota.PeriodKey(now)

	// A stale or empty record carries nothing worth merging. The server's
	// day boundary is authoritative here; a client that crossed midnight
	// ahead of the server simply loses yesterday's handful of units.
	rec := token.Decode(anonToken)
	if rec.Zero() || rec.PeriodKey != today {
		return TransferResult{ClearToken: true}, nil
	}

	// Reserve before crediting. The reservation, not the later clearing
	// of the token, is what makes replays no-ops.
	digest := tokenDigest(anonToken)
	if err := s.ledger.Reserve(ctx, digest, identityID, now); err != nil {
		if errors.Is(err, ports.ErrDuplicateTransfer) {
			s.logger.Info().Str("identity", identityID).
				Msg("anonymous token already merged, skipping credit")
			return TransferResult{ClearToken: true}, nil
		}
		return TransferResult{}, fmt.Errorf("reserve transfer: %w", err)
	}

	// Same atomic increment primitive as the request path, so a transfer
	// racing a concurrent increment still converges to the correct sum.
	if _, err := s.store.Increment(ctx, identityID, today, rec.Count); err != nil {
		// Keep the token and release the reservation so a retry can
		// re-merge. If the release fails too the retry under-credits,
		// which is preferred over a double credit.
		if rerr := s.ledger.Release(ctx, digest); rerr != nil {
			s.logger.Error().Err(rerr).Str("identity", identityID).
				Msg("transfer reservation release failed, retry will not re-credit")
		}
		return TransferResult{}, fmt.Errorf("credit transfer: %w", err)
	}

	s.logger.Info().Str("identity", identityID).Int64("units", rec.Count).
		Msg("anonymous usage merged")
	return TransferResult{TransferredUnits: rec.Count, ClearToken: true}, nil
}

// tokenDigest derives the idempotency key for a token.
func tokenDigest(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}
