package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/usagekit/usagekit/app"
	"github.com/usagekit/usagekit/domain/identity"
	"github.com/usagekit/usagekit/domain/metering"
	"github.com/usagekit/usagekit/domain/quota"
)

// decisionPayload is the wire format for a quota decision. ResetAt is an
// ISO-8601 instant; Limit is -1 for unlimited tiers.
type decisionPayload struct {
	Allowed   bool   `json:"allowed"`
	Tier      string `json:"tier"`
	Used      int64  `json:"used"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
	ResetAt   string `json:"reset_at"`
}

func outcome(d quota.Decision) string {
	if d.Allowed {
		return "allowed"
	}
	return "denied"
}

func (h *Handler) observeDecision(op string, d quota.Decision) {
	if h.metrics != nil {
		h.metrics.DecisionsTotal.WithLabelValues(string(d.Tier), op, outcome(d)).Inc()
	}
}

func toPayload(d quota.Decision) decisionPayload {
	return decisionPayload{
		Allowed:   d.Allowed,
		Tier:      string(d.Tier),
		Used:      d.Used,
		Limit:     d.Limit,
		Remaining: d.Remaining,
		ResetAt:   d.ResetAt.Format(time.RFC3339),
	}
}

// GetQuota returns the caller's current quota status without consuming
// anything.
func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)

	if !caller.IsAnonymous() {
		if d, ok := h.cache.Get(cacheKey(caller)); ok {
			if h.metrics != nil {
				h.metrics.CacheHits.Inc()
			}
			writeJSON(w, http.StatusOK, toPayload(d))
			return
		}
		if h.metrics != nil {
			h.metrics.CacheMisses.Inc()
		}
	}

	d := h.quota.Check(r.Context(), caller)
	h.observeDecision("check", d)

	// Fail-open decisions are never cached: caching one would keep
	// serving the degraded tier after the dependency recovers.
	if !caller.IsAnonymous() && !d.FailOpen {
		h.cache.Set(cacheKey(caller), d)
	}
	writeJSON(w, http.StatusOK, toPayload(d))
}

// IncrementQuota consumes one unit and returns the updated decision. For
// anonymous callers the refreshed token is written back to the cookie.
func (h *Handler) IncrementQuota(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)

	d, newToken := h.quota.Increment(r.Context(), caller)
	h.observeDecision("increment", d)

	if caller.IsAnonymous() {
		h.setAnonCookie(w, newToken, d.ResetAt)
	} else {
		h.cache.Invalidate(cacheKey(caller))
	}
	writeJSON(w, http.StatusOK, toPayload(d))
}

// transferRequest allows clients without cookie storage to pass the
// token in the body.
type transferRequest struct {
	Token string `json:"token"`
}

// TransferQuota merges the caller's anonymous usage into their freshly
// authenticated identity. Requires a resolved identity; requesting a
// transfer without one is a contract violation, not a transient failure.
func (h *Handler) TransferQuota(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	if caller.IsAnonymous() {
		writeError(w, http.StatusBadRequest, "transfer requires an authenticated identity")
		return
	}

	tok := anonToken(r)
	if tok == "" {
		var req transferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			tok = req.Token
		}
	}

	result, err := h.transfer.Transfer(r.Context(), tok, caller.ID)
	if err != nil {
		if errors.Is(err, app.ErrNoIdentity) {
			writeError(w, http.StatusBadRequest, "transfer requires an authenticated identity")
			return
		}
		// Credit did not land; the token stays valid so a retry can
		// re-attempt the merge without loss.
		h.logger.Error().Err(err).Str("identity", caller.ID).Msg("transfer failed")
		if h.metrics != nil {
			h.metrics.TransfersTotal.WithLabelValues("failed").Inc()
		}
		writeError(w, http.StatusServiceUnavailable, "transfer failed, retry with the same token")
		return
	}

	if h.metrics != nil {
		if result.TransferredUnits > 0 {
			h.metrics.TransfersTotal.WithLabelValues("merged").Inc()
			h.metrics.TransferredUnits.Add(float64(result.TransferredUnits))
		} else {
			h.metrics.TransfersTotal.WithLabelValues("noop").Inc()
		}
	}

	if result.ClearToken {
		h.clearAnonCookie(w)
	}
	h.cache.Invalidate(cacheKey(caller))

	writeJSON(w, http.StatusOK, map[string]int64{"transferred_units": result.TransferredUnits})
}

// SignOut drops cached decisions for the authenticated identity and
// leaves the caller with a fresh anonymous state.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	if !caller.IsAnonymous() {
		h.cache.Invalidate(cacheKey(caller))
	}
	h.clearAnonCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// meterEventRequest is an external metering submission.
type meterEventRequest struct {
	ActorID    string  `json:"actor_id"`
	Category   string  `json:"category"`
	RawCost    float64 `json:"raw_cost,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
	Units      int64   `json:"units,omitempty"`
}

// SubmitMeterEvent accepts a billable event from an internal service.
// Always 202 on valid input: emission is fire-and-forget and its outcome
// is never reported back.
func (h *Handler) SubmitMeterEvent(w http.ResponseWriter, r *http.Request) {
	var req meterEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required")
		return
	}
	category := metering.Category(req.Category)
	if !metering.ValidCategory(category) {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}

	tier, err := h.quota.ResolveTier(r.Context(), req.ActorID)
	if err != nil {
		// Unresolvable actors are not billable; drop rather than guess.
		h.logger.Warn().Err(err).Str("actor", req.ActorID).
			Msg("tier resolution failed for meter event, dropped")
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch category {
	case metering.CategoryMeteredCall:
		h.meter.EmitMeteredCall(req.ActorID, tier, req.RawCost)
	case metering.CategoryCompute:
		h.meter.EmitComputeExecution(req.ActorID, tier, req.DurationMs)
	case metering.CategoryFeature:
		h.meter.EmitFeatureToggle(req.ActorID, tier, req.Units)
	}

	w.WriteHeader(http.StatusAccepted)
}

func cacheKey(c identity.Caller) string {
	return "id:" + c.ID
}

func (h *Handler) setAnonCookie(w http.ResponseWriter, token string, resetAt time.Time) {
	// Expiry must cover at least one full reset period past the current
	// one so a stale token can still be judged server-side.
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    token,
		Path:     "/",
		Expires:  resetAt.Add(24 * time.Hour),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearAnonCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
