package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"playback-control-plane/backend/internal/arbiter"
	"playback-control-plane/backend/internal/lease/domain"
	"playback-control-plane/backend/internal/server/middleware"
)

type mockArbiter struct {
	decision arbiter.Decision
	status   arbiter.Status
	closed   *domain.Lease
	err      error

	gotUser    string
	gotClass   domain.DeviceClass
	gotLeaseID string
}

func (m *mockArbiter) StartSession(_ context.Context, userID string, class domain.DeviceClass) (arbiter.Decision, error) {
	m.gotUser, m.gotClass = userID, class
	return m.decision, m.err
}

func (m *mockArbiter) PollStatus(_ context.Context, userID string, class domain.DeviceClass, leaseID string) (arbiter.Status, error) {
	m.gotUser, m.gotClass, m.gotLeaseID = userID, class, leaseID
	return m.status, m.err
}

func (m *mockArbiter) CompleteSession(_ context.Context, userID, leaseID string) (*domain.Lease, error) {
	m.gotUser, m.gotLeaseID = userID, leaseID
	return m.closed, m.err
}

func serve(t *testing.T, arb Arbiter, class domain.DeviceClass, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if class != "" {
				req = req.WithContext(middleware.WithIdentity(req.Context(), "user-1", class, "tok-1"))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/v1/playback", New(arb).Routes)

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestStartSession_Allow(t *testing.T) {
	arb := &mockArbiter{decision: arbiter.Decision{Verdict: arbiter.Allow, Lease: &domain.Lease{ID: "lease-1"}}}
	rec := serve(t, arb, domain.DeviceClassWeb, http.MethodPost, "/v1/playback/sessions", `{"device_class":"web"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["lease_id"]; got != "lease-1" {
		t.Errorf("lease_id = %v", got)
	}
	if arb.gotUser != "user-1" || arb.gotClass != domain.DeviceClassWeb {
		t.Errorf("arbiter called with %q/%q", arb.gotUser, arb.gotClass)
	}
}

func TestStartSession_EmptyBodyUsesTokenClass(t *testing.T) {
	arb := &mockArbiter{decision: arbiter.Decision{Verdict: arbiter.Allow, Lease: &domain.Lease{ID: "lease-2"}}}
	rec := serve(t, arb, domain.DeviceClassDesktop, http.MethodPost, "/v1/playback/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if arb.gotClass != domain.DeviceClassDesktop {
		t.Errorf("class = %q", arb.gotClass)
	}
}

func TestStartSession_Conflict(t *testing.T) {
	arb := &mockArbiter{decision: arbiter.Decision{Verdict: arbiter.Conflict}}
	rec := serve(t, arb, domain.DeviceClassWeb, http.MethodPost, "/v1/playback/sessions", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["conflict"] != true || body["message"] != arbiter.ConflictMessage {
		t.Errorf("body = %v", body)
	}
}

func TestStartSession_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"mismatched class", `{"device_class":"desktop"}`},
		{"unknown class", `{"device_class":"tv"}`},
		{"unknown field", `{"foo":1}`},
		{"malformed", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arb := &mockArbiter{}
			rec := serve(t, arb, domain.DeviceClassWeb, http.MethodPost, "/v1/playback/sessions", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			if arb.gotUser != "" {
				t.Error("arbiter should not be called")
			}
		})
	}
}

func TestStartSession_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unavailable", errors.Join(arbiter.ErrUnavailable, errors.New("conn refused")), http.StatusServiceUnavailable},
		{"invalid class", domain.ErrInvalidDeviceClass, http.StatusBadRequest},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, &mockArbiter{err: tt.err}, domain.DeviceClassWeb, http.MethodPost, "/v1/playback/sessions", "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestStartSession_NoIdentity(t *testing.T) {
	rec := serve(t, &mockArbiter{}, "", http.MethodPost, "/v1/playback/sessions", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestStatus_GetAndPost(t *testing.T) {
	arb := &mockArbiter{status: arbiter.Status{Conflict: true, DesktopPresent: true}}
	rec := serve(t, arb, domain.DeviceClassWeb, http.MethodGet, "/v1/playback/status?lease_id=lease-9", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["conflict"] != true || body["desktop_present"] != true {
		t.Errorf("body = %v", body)
	}
	if arb.gotLeaseID != "lease-9" {
		t.Errorf("lease id = %q", arb.gotLeaseID)
	}

	arb = &mockArbiter{}
	rec = serve(t, arb, domain.DeviceClassDesktop, http.MethodPost, "/v1/playback/status", `{"lease_id":"lease-3"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST status = %d", rec.Code)
	}
	body = decodeBody(t, rec)
	if body["conflict"] != false || body["desktop_present"] != false {
		t.Errorf("body = %v", body)
	}
	if arb.gotLeaseID != "lease-3" || arb.gotClass != domain.DeviceClassDesktop {
		t.Errorf("arbiter called with %q/%q", arb.gotLeaseID, arb.gotClass)
	}
}

func TestStatus_Unavailable(t *testing.T) {
	rec := serve(t, &mockArbiter{err: arbiter.ErrUnavailable}, domain.DeviceClassWeb, http.MethodGet, "/v1/playback/status", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestCompleteSession(t *testing.T) {
	arb := &mockArbiter{closed: &domain.Lease{ID: "lease-1", DurationSeconds: 42}}
	rec := serve(t, arb, domain.DeviceClassWeb, http.MethodPost, "/v1/playback/sessions/lease-1/complete", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["lease_id"] != "lease-1" || body["duration_seconds"] != float64(42) {
		t.Errorf("body = %v", body)
	}
	if arb.gotLeaseID != "lease-1" || arb.gotUser != "user-1" {
		t.Errorf("arbiter called with %q/%q", arb.gotUser, arb.gotLeaseID)
	}
}

func TestCompleteSession_NotFound(t *testing.T) {
	rec := serve(t, &mockArbiter{err: domain.ErrLeaseNotFound}, domain.DeviceClassWeb, http.MethodPost, "/v1/playback/sessions/nope/complete", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}
