// Package handler exposes the playback session routes over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"playback-control-plane/backend/internal/arbiter"
	"playback-control-plane/backend/internal/lease/domain"
	"playback-control-plane/backend/internal/logging"
	"playback-control-plane/backend/internal/server/middleware"
	"playback-control-plane/backend/internal/server/render"
)

// Arbiter is the decision surface the handlers call. *arbiter.Arbiter implements it.
type Arbiter interface {
	StartSession(ctx context.Context, userID string, class domain.DeviceClass) (arbiter.Decision, error)
	PollStatus(ctx context.Context, userID string, class domain.DeviceClass, leaseID string) (arbiter.Status, error)
	CompleteSession(ctx context.Context, userID, leaseID string) (*domain.Lease, error)
}

// Handler serves /v1/playback/sessions and /v1/playback/status.
type Handler struct {
	arb Arbiter
}

// New returns a Handler backed by arb.
func New(arb Arbiter) *Handler {
	return &Handler{arb: arb}
}

// Routes registers the session routes on r. r must already apply authentication.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sessions", h.StartSession)
	r.Post("/sessions/{leaseID}/complete", h.CompleteSession)
	r.Get("/status", h.Status)
	r.Post("/status", h.Status)
}

type startRequest struct {
	DeviceClass string `json:"device_class,omitempty" validate:"omitempty,oneof=web desktop"`
}

type startResponse struct {
	LeaseID string `json:"lease_id"`
}

type conflictResponse struct {
	Conflict bool   `json:"conflict"`
	Message  string `json:"message"`
}

type statusRequest struct {
	LeaseID string `json:"lease_id,omitempty" validate:"omitempty,max=64"`
}

type statusResponse struct {
	Conflict       bool `json:"conflict"`
	DesktopPresent bool `json:"desktop_present"`
}

type completeResponse struct {
	LeaseID         string `json:"lease_id"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// StartSession handles POST /v1/playback/sessions. 200 with the new lease, or 409 when a desktop
// lease blocks web playback.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	userID, class, ok := identity(w, r)
	if !ok {
		return
	}
	var req startRequest
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DeviceClass != "" && req.DeviceClass != class.String() {
		render.Error(w, http.StatusBadRequest, "device_class does not match the access token")
		return
	}

	dec, err := h.arb.StartSession(r.Context(), userID, class)
	if err != nil {
		writeArbiterError(w, r, err)
		return
	}
	if dec.Verdict == arbiter.Conflict {
		render.JSON(w, http.StatusConflict, conflictResponse{Conflict: true, Message: arbiter.ConflictMessage})
		return
	}
	render.JSON(w, http.StatusOK, startResponse{LeaseID: dec.Lease.ID})
}

// Status handles GET and POST /v1/playback/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID, class, ok := identity(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if r.Method == http.MethodGet {
		req.LeaseID = r.URL.Query().Get("lease_id")
		if err := render.Validate(&req); err != nil {
			render.Error(w, http.StatusBadRequest, err.Error())
			return
		}
	} else if err := render.Decode(r, &req); err != nil {
		render.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.arb.PollStatus(r.Context(), userID, class, req.LeaseID)
	if err != nil {
		writeArbiterError(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, statusResponse{Conflict: st.Conflict, DesktopPresent: st.DesktopPresent})
}

// CompleteSession handles POST /v1/playback/sessions/{leaseID}/complete.
func (h *Handler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := identity(w, r)
	if !ok {
		return
	}
	leaseID := chi.URLParam(r, "leaseID")
	if leaseID == "" || len(leaseID) > 64 {
		render.Error(w, http.StatusBadRequest, "invalid lease id")
		return
	}
	l, err := h.arb.CompleteSession(r.Context(), userID, leaseID)
	if err != nil {
		writeArbiterError(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, completeResponse{LeaseID: l.ID, DurationSeconds: l.DurationSeconds})
}

func identity(w http.ResponseWriter, r *http.Request) (string, domain.DeviceClass, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		render.Error(w, http.StatusUnauthorized, "missing or invalid authorization")
		return "", "", false
	}
	class, ok := middleware.GetDeviceClass(r.Context())
	if !ok {
		render.Error(w, http.StatusBadRequest, "unknown device_class")
		return "", "", false
	}
	return userID, class, true
}

// writeArbiterError maps arbiter errors to HTTP statuses.
func writeArbiterError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrLeaseNotFound):
		render.Error(w, http.StatusNotFound, "lease not found")
	case errors.Is(err, domain.ErrInvalidDeviceClass):
		render.Error(w, http.StatusBadRequest, "unknown device_class")
	case errors.Is(err, arbiter.ErrUnavailable):
		render.Error(w, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("lease handler: unexpected error")
		render.Error(w, http.StatusInternalServerError, "internal error")
	}
}
