// Package server assembles the HTTP API: routing, middleware order, and handler registration.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	healthhandler "playback-control-plane/backend/internal/health/handler"
	heartbeathandler "playback-control-plane/backend/internal/heartbeat/handler"
	leasehandler "playback-control-plane/backend/internal/lease/handler"
	"playback-control-plane/backend/internal/ratelimit"
	"playback-control-plane/backend/internal/server/middleware"
	"playback-control-plane/backend/internal/server/render"
	"playback-control-plane/backend/internal/telemetry"
)

// Deps holds the dependencies of the HTTP handlers.
type Deps struct {
	// Tokens validates bearer access tokens. Required.
	Tokens middleware.TokenValidator
	// Arbiter serves the session and status routes. Required.
	Arbiter leasehandler.Arbiter
	// Tracker serves the heartbeat routes. If nil, the heartbeat routes are not registered.
	Tracker heartbeathandler.Tracker
	// Limiter is applied to every authenticated route. If nil, requests are not limited.
	Limiter *ratelimit.Limiter
	// Metrics records request metrics and is served at /metrics. May be nil.
	Metrics *telemetry.Metrics
	// HealthPinger is used by /healthz for readiness (e.g. *sql.DB). If nil, the ping is skipped.
	HealthPinger healthhandler.Pinger
	// Logger is the base request logger.
	Logger zerolog.Logger
}

// NewRouter returns the API handler.
//
// Route → handler mapping:
//   - /healthz                       → internal/health/handler
//   - /metrics                       → telemetry.Metrics
//   - /v1/playback/sessions, status  → internal/lease/handler
//   - /v1/playback/heartbeat         → internal/heartbeat/handler
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.RequestTelemetry(deps.Metrics, map[string]bool{"/healthz": true, "/metrics": true}))
	r.Use(chimw.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		render.Error(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		render.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Method(http.MethodGet, "/healthz", healthhandler.NewServer(deps.HealthPinger))
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/v1/playback", func(r chi.Router) {
		r.Use(middleware.Auth(deps.Tokens))
		if deps.Limiter != nil {
			r.Use(deps.Limiter.Middleware)
		}
		leasehandler.New(deps.Arbiter).Routes(r)
		if deps.Tracker != nil {
			heartbeathandler.New(deps.Tracker).Routes(r)
		}
	})
	return r
}
