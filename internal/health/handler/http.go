package handler

import (
	"context"
	"net/http"
	"time"

	"playback-control-plane/backend/internal/logging"
	"playback-control-plane/backend/internal/server/render"
)

const pingTimeout = 2 * time.Second

// Pinger checks that a dependency is reachable. *sql.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server answers readiness checks from load balancers and orchestrators.
type Server struct {
	db Pinger
}

// NewServer returns a health server. db may be nil when running on in-memory stores.
func NewServer(db Pinger) *Server {
	return &Server{db: db}
}

type healthResponse struct {
	Status string `json:"status"`
}

// ServeHTTP handles GET /healthz: 200 when serving, 503 when the database does not answer.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("health: database ping failed")
			render.JSON(w, http.StatusServiceUnavailable, healthResponse{Status: "not_serving"})
			return
		}
	}
	render.JSON(w, http.StatusOK, healthResponse{Status: "serving"})
}
