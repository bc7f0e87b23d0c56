// Package quota provides pure functions for daily quota decisions.
// All functions are deterministic with no side effects.
package quota

import (
	"time"

	"github.com/usagekit/usagekit/domain/identity"
)

// Unlimited is the sentinel limit for tiers with no daily cap.
const Unlimited int64 = -1

// UnlimitedRemaining is reported as "remaining" for unlimited tiers so the
// field stays numeric on the wire.
const UnlimitedRemaining int64 = 1_000_000_000

// PeriodKeyLayout is the calendar-day identifier format.
const PeriodKeyLayout = "2006-01-02"

// Record is a counter bound to a calendar day. A record whose PeriodKey
// differs from the evaluation day is semantically zero.
type Record struct {
	Count     int64
	PeriodKey string
}

// Zero reports whether the record carries no usage.
func (r Record) Zero() bool {
	return r.Count == 0 || r.PeriodKey == ""
}

// Limits is the static tier table (value type). Zero fields fall back to
// Defaults at decision time.
type Limits struct {
	Anonymous int64 // small fixed daily allowance
	Free      int64 // large safety ceiling, effectively unlimited
}

// Defaults returns the built-in tier table.
func Defaults() Limits {
	return Limits{
		Anonymous: 3,
		Free:      50_000,
	}
}

// LimitFor returns the daily limit for a tier, Unlimited for uncapped
// tiers. This is a PURE function.
func (l Limits) LimitFor(tier identity.Tier) int64 {
	switch tier {
	case identity.TierAnonymous:
		if l.Anonymous > 0 {
			return l.Anonymous
		}
		return Defaults().Anonymous
	case identity.TierFree:
		if l.Free > 0 {
			return l.Free
		}
		return Defaults().Free
	default:
		return Unlimited
	}
}

// Decision is the outcome of a quota evaluation (value type).
type Decision struct {
	Allowed   bool
	Tier      identity.Tier
	Used      int64
	Limit     int64 // Unlimited for uncapped tiers
	Remaining int64
	ResetAt   time.Time // next day boundary, in the evaluator's location

	// FailOpen marks a default decision served because a dependency was
	// unreachable. Such decisions must not be cached: they would keep
	// masking the caller's real tier after the dependency recovers.
	FailOpen bool
}

// PeriodKey returns the calendar-day identifier for t.
func PeriodKey(t time.Time) string {
	return t.Format(PeriodKeyLayout)
}

// NextReset returns the start of the calendar day after t, in t's location.
func NextReset(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
}

// EffectiveCount returns the usage the record contributes on the day of
// now: its count for the current period, zero for any other period (lazy
// reset, no write implied).
func EffectiveCount(rec Record, now time.Time) int64 {
	if rec.PeriodKey != PeriodKey(now) {
		return 0
	}
	return rec.Count
}

// Decide evaluates a record against the tier table.
// This is a PURE function - no side effects, trivially testable.
func Decide(tier identity.Tier, limits Limits, rec Record, now time.Time) Decision {
	used := EffectiveCount(rec, now)
	limit := limits.LimitFor(tier)

	d := Decision{
		Tier:    tier,
		Used:    used,
		Limit:   limit,
		ResetAt: NextReset(now),
	}

	if limit == Unlimited {
		d.Allowed = true
		d.Remaining = UnlimitedRemaining
		return d
	}

	d.Allowed = used < limit
	if remaining := limit - used; remaining > 0 {
		d.Remaining = remaining
	}
	return d
}

// Apply returns the record after one increment at time now: a stale record
// restarts at 1 for the current period, a current one advances by one.
// This is a PURE function - persistence is the caller's concern.
func Apply(rec Record, now time.Time) Record {
	today := PeriodKey(now)
	if rec.PeriodKey != today {
		return Record{Count: 1, PeriodKey: today}
	}
	return Record{Count: rec.Count + 1, PeriodKey: today}
}
