package memory

import (
	"context"
	"sync"

	"github.com/usagekit/usagekit/domain/identity"
	"github.com/usagekit/usagekit/ports"
)

// IdentityResolver is an in-memory implementation of
// ports.IdentityResolver, used in tests and behind trusted gateways that
// pass subscription state in headers.
type IdentityResolver struct {
	mu   sync.RWMutex
	subs map[string]identity.Subscription

	// Fail forces resolution errors for fail-open tests.
	Fail error
}

// NewIdentityResolver creates an empty in-memory resolver. Unknown
// identities resolve to a zero subscription (tier free after Resolve).
func NewIdentityResolver() *IdentityResolver {
	return &IdentityResolver{subs: make(map[string]identity.Subscription)}
}

// Put stores subscription state for an identity.
func (r *IdentityResolver) Put(identityID string, sub identity.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[identityID] = sub
}

// Resolve looks up subscription state for an identity.
func (r *IdentityResolver) Resolve(ctx context.Context, identityID string) (identity.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.Fail != nil {
		return identity.Subscription{}, r.Fail
	}
	return r.subs[identityID], nil
}

// Ensure interface compliance.
var _ ports.IdentityResolver = (*IdentityResolver)(nil)
