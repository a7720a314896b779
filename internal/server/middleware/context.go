// Package middleware holds the HTTP middleware of the playback API: bearer authentication,
// the identity context, request logging and request metrics.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"playback-control-plane/backend/internal/lease/domain"
)

type contextKey struct{ name string }

var (
	userIDKey      = contextKey{"user_id"}
	deviceClassKey = contextKey{"device_class"}
	tokenIDKey     = contextKey{"token_id"}
)

// ErrNoIdentity is returned by UserKey for requests that did not pass Auth.
var ErrNoIdentity = errors.New("no authenticated identity")

// WithIdentity returns a context with user_id, device_class, and token_id set.
// Handlers read these via GetUserID, GetDeviceClass, GetTokenID.
func WithIdentity(ctx context.Context, userID string, class domain.DeviceClass, tokenID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, deviceClassKey, class)
	ctx = context.WithValue(ctx, tokenIDKey, tokenID)
	return ctx
}

// GetUserID returns the user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok && v != ""
}

// GetDeviceClass returns the authenticated device class and true if set.
func GetDeviceClass(ctx context.Context) (domain.DeviceClass, bool) {
	v, ok := ctx.Value(deviceClassKey).(domain.DeviceClass)
	return v, ok && v.Valid()
}

// GetTokenID returns the access token's jti and true if set.
func GetTokenID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tokenIDKey).(string)
	return v, ok
}

// UserKey is the rate-limit key function: the authenticated user_id.
func UserKey(r *http.Request) (string, error) {
	if id, ok := GetUserID(r.Context()); ok {
		return id, nil
	}
	return "", ErrNoIdentity
}
