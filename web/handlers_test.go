package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/usagekit/usagekit/adapters/clock"
	"github.com/usagekit/usagekit/adapters/idgen"
	"github.com/usagekit/usagekit/adapters/ledger"
	"github.com/usagekit/usagekit/adapters/memory"
	"github.com/usagekit/usagekit/app"
	"github.com/usagekit/usagekit/domain/metering"
	"github.com/usagekit/usagekit/domain/quota"
)

var testNow = time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)

type fixture struct {
	router http.Handler
	store  *memory.UsageStore
	clock  *clock.Fake
	events *ledger.Capture
}

// syncRecorder publishes each event immediately, so handler tests see
// ledger state without flush timing.
type syncRecorder struct {
	ledger *ledger.Capture
}

func (r syncRecorder) Record(e metering.Event) {
	r.ledger.Publish(context.Background(), []metering.Event{e})
}
func (r syncRecorder) Flush(ctx context.Context) error { return nil }
func (r syncRecorder) Close() error                    { return nil }

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewUsageStore()
	clk := clock.NewFake(testNow)
	events := ledger.NewCapture()

	quotaSvc := app.NewQuotaService(app.QuotaDeps{
		Store:    store,
		Resolver: ContextResolver{},
		Clock:    clk,
		Logger:   zerolog.Nop(),
	}, app.QuotaConfig{
		Limits: quota.Limits{Anonymous: 3, Free: 50000},
	})
	transferSvc := app.NewTransferService(store, memory.NewTransferLedger(), clk, zerolog.Nop())
	meterSvc := app.NewMeterService(syncRecorder{ledger: events}, idgen.NewSequential("evt"), clk,
		zerolog.Nop(), metering.DefaultPricing(), app.MeterLive)

	h := NewHandler(Deps{
		Quota:    quotaSvc,
		Transfer: transferSvc,
		Meter:    meterSvc,
		Cache:    memory.NewDecisionCache(time.Minute, clk),
		Clock:    clk,
		Logger:   zerolog.Nop(),
	})

	return &fixture{router: h.Router(), store: store, clock: clk, events: events}
}

func (f *fixture) do(t *testing.T, method, path string, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for _, opt := range opts {
		opt(req)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func withCookie(tok string) func(*http.Request) {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: AnonCookieName, Value: tok})
	}
}

func asUser(id, tier, status string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set(HeaderUserID, id)
		if tier != "" {
			r.Header.Set(HeaderSubscriptionTier, tier)
			r.Header.Set(HeaderSubscriptionStatus, status)
		}
	}
}

func decodeDecision(t *testing.T, w *httptest.ResponseRecorder) decisionPayload {
	t.Helper()
	var d decisionPayload
	if err := json.Unmarshal(w.Body.Bytes(), &d); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return d
}

func anonCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == AnonCookieName {
			return c
		}
	}
	return nil
}

func TestGetQuotaAnonymousFresh(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/v1/quota")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	d := decodeDecision(t, w)
	if !d.Allowed || d.Tier != "anonymous" || d.Remaining != 3 {
		t.Errorf("decision = %+v", d)
	}
}

func TestAnonymousAllowanceScenario(t *testing.T) {
	f := newFixture(t)

	// Burn the full anonymous allowance, carrying the cookie forward.
	tok := ""
	for i := 1; i <= 3; i++ {
		w := f.do(t, "POST", "/v1/quota/increment", withCookie(tok))
		if w.Code != http.StatusOK {
			t.Fatalf("increment %d: status = %d", i, w.Code)
		}
		c := anonCookie(t, w)
		if c == nil {
			t.Fatalf("increment %d: no quota cookie set", i)
		}
		tok = c.Value

		d := decodeDecision(t, w)
		if d.Used != int64(i) {
			t.Fatalf("increment %d: used = %d", i, d.Used)
		}
	}

	// Allowance exhausted.
	w := f.do(t, "GET", "/v1/quota", withCookie(tok))
	if d := decodeDecision(t, w); d.Allowed {
		t.Error("fourth request should be denied")
	}

	// Sign in and transfer: the authenticated identity starts at used=3.
	w = f.do(t, "POST", "/v1/quota/transfer", withCookie(tok),
		asUser("user_1", "", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("transfer: status = %d body = %s", w.Code, w.Body.String())
	}
	var tr map[string]int64
	json.Unmarshal(w.Body.Bytes(), &tr)
	if tr["transferred_units"] != 3 {
		t.Errorf("transferred_units = %d, want 3", tr["transferred_units"])
	}
	if c := anonCookie(t, w); c == nil || c.MaxAge != -1 {
		t.Error("transfer should clear the anonymous cookie")
	}

	// Free tier: used=3 against the big ceiling, allowed again.
	w = f.do(t, "GET", "/v1/quota", asUser("user_1", "", ""))
	d := decodeDecision(t, w)
	if !d.Allowed || d.Used != 3 || d.Tier != "free" {
		t.Errorf("post-transfer decision = %+v", d)
	}
}

func TestTransferReplayCreditsNothing(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/v1/quota/increment")
	tok := anonCookie(t, w).Value

	f.do(t, "POST", "/v1/quota/transfer", withCookie(tok), asUser("user_1", "", ""))
	w = f.do(t, "POST", "/v1/quota/transfer", withCookie(tok), asUser("user_1", "", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("replay: status = %d", w.Code)
	}
	var tr map[string]int64
	json.Unmarshal(w.Body.Bytes(), &tr)
	if tr["transferred_units"] != 0 {
		t.Errorf("replay credited %d units", tr["transferred_units"])
	}
}

func TestTransferRequiresIdentity(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/v1/quota/transfer", withCookie("sometoken"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestTransferFailureKeepsCookie(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/v1/quota/increment")
	tok := anonCookie(t, w).Value

	f.store.FailIncrement = errors.New("db locked")
	w = f.do(t, "POST", "/v1/quota/transfer", withCookie(tok), asUser("user_1", "", ""))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if c := anonCookie(t, w); c != nil {
		t.Error("failed transfer must not touch the anonymous cookie")
	}
}

func TestPaidTierViaHeaders(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/v1/quota", asUser("user_1", "paid_metered", "active"))
	d := decodeDecision(t, w)
	if d.Tier != "paid_metered" || !d.Allowed {
		t.Errorf("decision = %+v", d)
	}
	if d.Limit != -1 {
		t.Errorf("limit = %d, want -1 (unlimited)", d.Limit)
	}
}

func TestLapsedTierServedAsFree(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/v1/quota", asUser("user_1", "paid_metered", "lapsed"))
	if d := decodeDecision(t, w); d.Tier != "free" {
		t.Errorf("tier = %s, want free", d.Tier)
	}
}

func TestStoreOutageNeverSurfacesAsError(t *testing.T) {
	f := newFixture(t)
	f.store.FailGet = errors.New("connection refused")
	f.store.FailIncrement = errors.New("connection refused")

	w := f.do(t, "GET", "/v1/quota", asUser("user_1", "", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("check during outage: status = %d, want 200", w.Code)
	}
	if d := decodeDecision(t, w); !d.Allowed {
		t.Error("check during outage should fail open")
	}

	w = f.do(t, "POST", "/v1/quota/increment", asUser("user_1", "", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("increment during outage: status = %d, want 200", w.Code)
	}
}

func TestFailOpenDecisionNotCached(t *testing.T) {
	f := newFixture(t)
	paid := asUser("user_1", "paid_metered", "active")

	// Outage: the paid caller is served the fail-open default.
	f.store.FailGet = errors.New("connection refused")
	w := f.do(t, "GET", "/v1/quota", paid)
	if d := decodeDecision(t, w); d.Tier != "free" {
		t.Fatalf("tier during outage = %s, want free fail-open", d.Tier)
	}

	// Recovery: the next read must reflect the real tier immediately,
	// not a cached copy of the degraded decision.
	f.store.FailGet = nil
	w = f.do(t, "GET", "/v1/quota", paid)
	if d := decodeDecision(t, w); d.Tier != "paid_metered" {
		t.Errorf("tier after recovery = %s, want paid_metered", d.Tier)
	}
}

func TestSignOut(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/v1/session/signout", asUser("user_1", "", ""))
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if c := anonCookie(t, w); c == nil || c.MaxAge != -1 {
		t.Error("signout should clear the anonymous cookie")
	}
}

func TestSubmitMeterEvent(t *testing.T) {
	f := newFixture(t)

	body, _ := json.Marshal(map[string]any{
		"actor_id": "user_1",
		"category": "metered_api_call",
		"raw_cost": 0.05,
	})
	req := httptest.NewRequest("POST", "/v1/meter/events", bytes.NewReader(body))
	asUser("user_1", "paid_metered", "active")(req)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}

	events := f.events.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].BillableUnits != 6 {
		t.Errorf("BillableUnits = %d, want 6", events[0].BillableUnits)
	}
}

func TestSubmitMeterEventValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "missing actor", body: map[string]any{"category": "metered_api_call"}},
		{name: "unknown category", body: map[string]any{"actor_id": "u", "category": "storage_gb"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.body)
			req := httptest.NewRequest("POST", "/v1/meter/events", bytes.NewReader(body))
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	if w := f.do(t, "GET", "/healthz"); w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}
