// Package handler exposes the desktop heartbeat routes over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"playback-control-plane/backend/internal/arbiter"
	"playback-control-plane/backend/internal/heartbeat"
	hbdomain "playback-control-plane/backend/internal/heartbeat/domain"
	leasedomain "playback-control-plane/backend/internal/lease/domain"
	"playback-control-plane/backend/internal/logging"
	"playback-control-plane/backend/internal/server/middleware"
	"playback-control-plane/backend/internal/server/render"
)

// Tracker is implemented by *heartbeat.Tracker.
type Tracker interface {
	Beat(ctx context.Context, fingerprint, userID, leaseID string) error
	Stop(ctx context.Context, fingerprint, userID, leaseID string) error
}

// Handler serves /v1/playback/heartbeat.
type Handler struct {
	tracker Tracker
}

func New(t Tracker) *Handler {
	return &Handler{tracker: t}
}

// Routes registers the heartbeat routes on r. r must already apply authentication.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/heartbeat", h.Beat)
	r.Post("/heartbeat/stop", h.Stop)
}

type heartbeatRequest struct {
	Fingerprint string `json:"fingerprint" validate:"required,max=256"`
	LeaseID     string `json:"lease_id,omitempty" validate:"omitempty,max=64"`
}

// Beat handles POST /v1/playback/heartbeat.
func (h *Handler) Beat(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.tracker.Beat)
}

// Stop handles POST /v1/playback/heartbeat/stop, sent by the desktop app on graceful shutdown.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.tracker.Stop)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, call func(ctx context.Context, fingerprint, userID, leaseID string) error) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		render.Error(w, http.StatusUnauthorized, "missing or invalid authorization")
		return
	}
	if class, _ := middleware.GetDeviceClass(r.Context()); class != leasedomain.DeviceClassDesktop {
		render.Error(w, http.StatusForbidden, "heartbeats are accepted from desktop clients only")
		return
	}
	var req heartbeatRequest
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	err := call(r.Context(), req.Fingerprint, userID, req.LeaseID)
	switch {
	case err == nil:
		render.JSON(w, http.StatusOK, struct{}{})
	case errors.Is(err, heartbeat.ErrInvalidFingerprint):
		render.Error(w, http.StatusBadRequest, "fingerprint is required")
	case errors.Is(err, hbdomain.ErrFingerprintOwned):
		render.Error(w, http.StatusConflict, "fingerprint is registered to another account")
	case errors.Is(err, arbiter.ErrUnavailable):
		render.Error(w, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("heartbeat handler: unexpected error")
		render.Error(w, http.StatusInternalServerError, "internal error")
	}
}
