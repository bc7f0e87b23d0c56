package web

import (
	"context"
	"net/http"

	"github.com/usagekit/usagekit/domain/identity"
	"github.com/usagekit/usagekit/ports"
)

type ctxKey string

const subscriptionKey ctxKey = "subscription"

// Trusted gateway headers. The upstream gateway authenticates the user
// and forwards identity plus subscription state; this core never sees
// credentials.
const (
	HeaderUserID             = "X-User-ID"
	HeaderSubscriptionTier   = "X-Subscription-Tier"
	HeaderSubscriptionStatus = "X-Subscription-Status"
)

// withSubscription adds gateway-supplied subscription state to the
// context.
func withSubscription(ctx context.Context, sub identity.Subscription) context.Context {
	return context.WithValue(ctx, subscriptionKey, sub)
}

// SubscriptionFromContext retrieves gateway-supplied subscription state.
func SubscriptionFromContext(ctx context.Context) (identity.Subscription, bool) {
	sub, ok := ctx.Value(subscriptionKey).(identity.Subscription)
	return sub, ok
}

// subscriptionHeaders lifts the trusted gateway headers into the request
// context so the context resolver can see them.
func (h *Handler) subscriptionHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tier := r.Header.Get(HeaderSubscriptionTier); tier != "" {
			sub := identity.Subscription{
				Tier:   identity.Tier(tier),
				Status: identity.SubscriptionStatus(r.Header.Get(HeaderSubscriptionStatus)),
			}
			r = r.WithContext(withSubscription(r.Context(), sub))
		}
		next.ServeHTTP(w, r)
	})
}

// ContextResolver resolves subscriptions from gateway headers lifted into
// the request context. Used when identity.mode=headers: the gateway has
// already resolved the subscription, so no outbound lookup happens.
type ContextResolver struct{}

// Resolve returns the context-carried subscription; absent state resolves
// to a zero subscription (tier free).
func (ContextResolver) Resolve(ctx context.Context, identityID string) (identity.Subscription, error) {
	sub, _ := SubscriptionFromContext(ctx)
	return sub, nil
}

// Ensure interface compliance.
var _ ports.IdentityResolver = ContextResolver{}

// callerFrom extracts the caller identity from a request: a stable
// identity id from the gateway, else the anonymous token from cookie or
// header.
func callerFrom(r *http.Request) identity.Caller {
	if id := r.Header.Get(HeaderUserID); id != "" {
		return identity.Caller{ID: id}
	}
	return identity.Caller{AnonToken: anonToken(r)}
}

func anonToken(r *http.Request) string {
	if c, err := r.Cookie(AnonCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.Header.Get(AnonHeaderName)
}
