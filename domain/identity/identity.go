// Package identity provides identity and tier value types plus pure
// resolution functions. No side effects.
package identity

// Tier is the entitlement class governing quota limits and billing
// eligibility.
type Tier string

const (
	TierAnonymous     Tier = "anonymous"
	TierFree          Tier = "free"
	TierPaidMetered   Tier = "paid_metered"
	TierPaidUnlimited Tier = "paid_unlimited"
	TierPrivileged    Tier = "privileged" // operator/dev override
)

// SubscriptionStatus mirrors the states reported by the identity
// resolution collaborator.
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusLapsed   SubscriptionStatus = "lapsed"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusNone     SubscriptionStatus = ""
)

// Subscription is the resolved subscription state for an authenticated
// principal.
type Subscription struct {
	Tier   Tier
	Status SubscriptionStatus
}

// Caller identifies the party a quota decision is being made for.
// Exactly one of ID / AnonToken is meaningful: an authenticated principal
// has a stable ID and server-side state; an anonymous caller carries its
// state in the opaque token.
type Caller struct {
	ID        string // authenticated principal id, empty for anonymous
	AnonToken string // opaque client-held quota token
}

// IsAnonymous reports whether the caller has no stable identity.
func (c Caller) IsAnonymous() bool {
	return c.ID == ""
}

// ValidTier reports whether t is a known tier value.
func ValidTier(t Tier) bool {
	switch t {
	case TierAnonymous, TierFree, TierPaidMetered, TierPaidUnlimited, TierPrivileged:
		return true
	}
	return false
}

// Resolve maps a subscription to the effective tier.
// This is a PURE function.
//
// A subscription that exists but is not active falls back to free, never
// to its nominal paid tier. Unknown tiers also resolve to free, which is
// the safe floor for billing eligibility.
func Resolve(sub Subscription) Tier {
	if sub.Status != StatusActive {
		return TierFree
	}
	if !ValidTier(sub.Tier) || sub.Tier == TierAnonymous {
		return TierFree
	}
	return sub.Tier
}

// Billable reports whether usage for this tier produces ledger events.
// Anonymous and free tiers are not billed; privileged is an internal
// override and is never billed.
func Billable(t Tier) bool {
	return t == TierPaidMetered || t == TierPaidUnlimited
}
