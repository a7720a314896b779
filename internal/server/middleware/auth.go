package middleware

import (
	"net/http"
	"strings"

	"playback-control-plane/backend/internal/lease/domain"
	"playback-control-plane/backend/internal/logging"
	"playback-control-plane/backend/internal/security"
	"playback-control-plane/backend/internal/server/render"
)

const bearerPrefix = "bearer "

// TokenValidator validates access tokens. *security.TokenProvider implements it.
type TokenValidator interface {
	ValidateAccess(token string) (security.Identity, error)
}

// Auth validates the Bearer access token and stores the caller's identity in the request context.
// Missing or invalid tokens get 401; a token whose device_class is not a known class gets 400.
// Neither reaches the next handler.
func Auth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				render.Error(w, http.StatusUnauthorized, "missing or invalid authorization")
				return
			}
			id, err := tokens.ValidateAccess(token)
			if err != nil {
				render.Error(w, http.StatusUnauthorized, "missing or invalid authorization")
				return
			}
			class, err := domain.ParseDeviceClass(id.DeviceClass)
			if err != nil {
				render.Error(w, http.StatusBadRequest, "unknown device_class")
				return
			}
			ctx := WithIdentity(r.Context(), id.UserID, class, id.TokenID)
			l := logging.Ctx(ctx).With().Str("user_id", id.UserID).Str("device_class", class.String()).Logger()
			ctx = logging.WithContext(ctx, l)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractBearer returns the Bearer token from the Authorization header, or "" if missing or malformed.
func extractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
