// Package web provides the HTTP API surface for the quota and metering
// core. Callers of the read and increment endpoints never see a 5xx
// caused by this core's dependencies; they get a normal decision payload
// or the fail-open default.
package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/usagekit/usagekit/adapters/metrics"
	"github.com/usagekit/usagekit/app"
	"github.com/usagekit/usagekit/ports"
)

// AnonCookieName is the cookie carrying the anonymous quota token.
const AnonCookieName = "uq_anon"

// AnonHeaderName is the header fallback for clients without cookie
// storage.
const AnonHeaderName = "X-Anon-Quota"

// Handler provides the quota API endpoints.
type Handler struct {
	quota    *app.QuotaService
	transfer *app.TransferService
	meter    *app.MeterService
	cache    ports.DecisionCache
	clock    ports.Clock
	logger   zerolog.Logger
	metrics  *metrics.Collector

	metricsEnabled bool
	metricsPath    string
}

// Deps contains dependencies for the web handler. Metrics may be nil.
type Deps struct {
	Quota    *app.QuotaService
	Transfer *app.TransferService
	Meter    *app.MeterService
	Cache    ports.DecisionCache
	Clock    ports.Clock
	Logger   zerolog.Logger
	Metrics  *metrics.Collector

	MetricsEnabled bool
	MetricsPath    string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	path := deps.MetricsPath
	if path == "" {
		path = "/metrics"
	}
	return &Handler{
		quota:          deps.Quota,
		transfer:       deps.Transfer,
		meter:          deps.Meter,
		cache:          deps.Cache,
		clock:          deps.Clock,
		logger:         deps.Logger,
		metrics:        deps.Metrics,
		metricsEnabled: deps.MetricsEnabled,
		metricsPath:    path,
	}
}

// Router builds the chi router for the service.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(h.subscriptionHeaders)

	r.Get("/healthz", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/quota", h.GetQuota)
		r.Post("/quota/increment", h.IncrementQuota)
		r.Post("/quota/transfer", h.TransferQuota)
		r.Post("/session/signout", h.SignOut)
		r.Post("/meter/events", h.SubmitMeterEvent)
	})

	if h.metricsEnabled {
		r.Handle(h.metricsPath, promhttp.Handler())
	}

	return r
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
