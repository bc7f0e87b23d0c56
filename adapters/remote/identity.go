package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/usagekit/usagekit/domain/identity"
	"github.com/usagekit/usagekit/ports"
)

// IdentityResolver resolves subscription state from an external identity
// service.
//
// API Contract:
//
//	GET /v1/identities/{id}/subscription
//	Response: {"tier": "paid_metered", "status": "active"}
//
// A 404 means the identity has no subscription and resolves to free; any
// other failure is returned to the caller, which fail-opens.
type IdentityResolver struct {
	client *Client
}

// NewIdentityResolver creates a remote identity resolver.
func NewIdentityResolver(client *Client) *IdentityResolver {
	return &IdentityResolver{client: client}
}

type wireSubscription struct {
	Tier   string `json:"tier"`
	Status string `json:"status"`
}

// Resolve looks up subscription state for an identity.
func (r *IdentityResolver) Resolve(ctx context.Context, identityID string) (identity.Subscription, error) {
	var sub wireSubscription
	path := fmt.Sprintf("/v1/identities/%s/subscription", url.PathEscape(identityID))
	if err := r.client.Request(ctx, http.MethodGet, path, nil, &sub); err != nil {
		if IsNotFound(err) {
			return identity.Subscription{}, nil
		}
		return identity.Subscription{}, fmt.Errorf("resolve identity: %w", err)
	}
	return identity.Subscription{
		Tier:   identity.Tier(sub.Tier),
		Status: identity.SubscriptionStatus(sub.Status),
	}, nil
}

// Ensure interface compliance.
var _ ports.IdentityResolver = (*IdentityResolver)(nil)
