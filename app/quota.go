// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/usagekit/usagekit/adapters/metrics"
	"github.com/usagekit/usagekit/domain/identity"
	"github.com/usagekit/usagekit/domain/quota"
	"github.com/usagekit/usagekit/domain/token"
	"github.com/usagekit/usagekit/ports"
)

// QuotaService answers, for every inbound action, whether the caller may
// proceed, and tracks consumption against the caller's tier. Anonymous
// callers carry their state in an opaque token; authenticated callers are
// backed by the usage store.
//
// Quota checks sit on the request's critical path, so every dependency
// failure on the read path degrades to a fail-open decision instead of an
// error: a degraded dependency loosens limits, it never locks the product.
type QuotaService struct {
	store    ports.UsageStore
	resolver ports.IdentityResolver
	clock    ports.Clock
	logger   zerolog.Logger
	metrics  *metrics.Collector

	limits            quota.Limits
	storeTimeout      time.Duration
	failOpenRemaining int64
}

// QuotaDeps contains dependencies for QuotaService. Metrics may be nil.
type QuotaDeps struct {
	Store    ports.UsageStore
	Resolver ports.IdentityResolver
	Clock    ports.Clock
	Logger   zerolog.Logger
	Metrics  *metrics.Collector
}

// QuotaConfig contains configuration for QuotaService.
type QuotaConfig struct {
	Limits quota.Limits
	// StoreTimeout bounds each store access; a slow store must not block
	// the caller's primary action.
	StoreTimeout time.Duration
	// FailOpenRemaining is the remaining count reported when a dependency
	// failure forces a default decision.
	FailOpenRemaining int64
}

// NewQuotaService creates a new quota service.
func NewQuotaService(deps QuotaDeps, cfg QuotaConfig) *QuotaService {
	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	if cfg.FailOpenRemaining == 0 {
		cfg.FailOpenRemaining = 50
	}
	return &QuotaService{
		store:             deps.Store,
		resolver:          deps.Resolver,
		clock:             deps.Clock,
		logger:            deps.Logger,
		metrics:           deps.Metrics,
		limits:            cfg.Limits,
		storeTimeout:      cfg.StoreTimeout,
		failOpenRemaining: cfg.FailOpenRemaining,
	}
}

// Limits returns the active tier table.
func (s *QuotaService) Limits() quota.Limits {
	return s.limits
}

// Check evaluates the caller's quota without mutating anything.
func (s *QuotaService) Check(ctx context.Context, caller identity.Caller) quota.Decision {
	if caller.IsAnonymous() {
		return s.checkAnonymous(caller.AnonToken)
	}
	return s.checkAuthenticated(ctx, caller.ID)
}

// Increment consumes one unit of the caller's quota and returns the
// decision against the new record. For anonymous callers the updated
// token is returned alongside; the caller owns writing it back to client
// storage.
func (s *QuotaService) Increment(ctx context.Context, caller identity.Caller) (quota.Decision, string) {
	if caller.IsAnonymous() {
		return s.incrementAnonymous(caller.AnonToken)
	}
	return s.incrementAuthenticated(ctx, caller.ID), ""
}

// ResolveTier resolves the effective tier for an authenticated identity,
// once per request. Resolution failure falls back to free: the safest
// billing floor, and still fail-open for availability.
func (s *QuotaService) ResolveTier(ctx context.Context, identityID string) (identity.Tier, error) {
	sub, err := s.resolver.Resolve(ctx, identityID)
	if err != nil {
		return identity.TierFree, err
	}
	return identity.Resolve(sub), nil
}

func (s *QuotaService) checkAnonymous(tok string) quota.Decision {
	rec := token.Decode(tok)
	return quota.Decide(identity.TierAnonymous, s.limits, rec, s.clock.Now())
}

func (s *QuotaService) incrementAnonymous(tok string) (quota.Decision, string) {
	now := s.clock.Now()
	rec := quota.Apply(token.Decode(tok), now)
	d := quota.Decide(identity.TierAnonymous, s.limits, rec, now)
	return d, token.Encode(rec.Count, rec.PeriodKey)
}

func (s *QuotaService) checkAuthenticated(ctx context.Context, identityID string) quota.Decision {
	tier, err := s.ResolveTier(ctx, identityID)
	if err != nil {
		s.logger.Warn().Err(err).Str("identity", identityID).
			Msg("identity resolution failed, serving fail-open decision")
		return s.failOpen("resolver")
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	rec, err := s.store.Get(ctx, identityID)
	if err != nil {
		s.logger.Warn().Err(err).Str("identity", identityID).
			Msg("usage store unavailable on read, serving fail-open decision")
		return s.failOpen("store_read")
	}

	return quota.Decide(tier, s.limits, rec, s.clock.Now())
}

func (s *QuotaService) incrementAuthenticated(ctx context.Context, identityID string) quota.Decision {
	tier, err := s.ResolveTier(ctx, identityID)
	if err != nil {
		s.logger.Warn().Err(err).Str("identity", identityID).
			Msg("identity resolution failed on increment, serving fail-open decision")
		return s.failOpen("resolver")
	}

	now := s.clock.Now()

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	rec, err := s.store.Increment(ctx, identityID, quota.PeriodKey(now), 1)
	if err != nil {
		// A lost increment under an outage is an accepted soft failure;
		// it must never block the caller's primary action.
		s.logger.Error().Err(err).Str("identity", identityID).
			Msg("usage store unavailable on increment, count lost")
		return s.failOpen("store_write")
	}

	return quota.Decide(tier, s.limits, rec, now)
}

// failOpen is the default decision served when a dependency is
// unreachable: allowed, a conservative non-zero remaining count, tier
// defaulted to the lowest non-privileged tier.
func (s *QuotaService) failOpen(reason string) quota.Decision {
	if s.metrics != nil {
		s.metrics.FailOpenTotal.WithLabelValues(reason).Inc()
	}
	now := s.clock.Now()
	return quota.Decision{
		Allowed:   true,
		Tier:      identity.TierFree,
		Used:      0,
		Limit:     s.limits.LimitFor(identity.TierFree),
		Remaining: s.failOpenRemaining,
		ResetAt:   quota.NextReset(now),
		FailOpen:  true,
	}
}
