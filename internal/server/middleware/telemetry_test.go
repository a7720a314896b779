package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"playback-control-plane/backend/internal/telemetry"
)

func TestRequestTelemetry_LogsAndMeasures(t *testing.T) {
	var buf bytes.Buffer
	metrics := telemetry.NewMetrics()

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(RequestLogger(zerolog.New(&buf)))
	r.Use(RequestTelemetry(metrics, map[string]bool{"/healthz": true}))
	r.Get("/v1/playback/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/playback/status", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	out := buf.String()
	if !strings.Contains(out, `"route":"/v1/playback/status"`) || !strings.Contains(out, `"status":418`) {
		t.Errorf("request log missing fields: %s", out)
	}
	if !strings.Contains(out, `"request_id"`) {
		t.Errorf("request log missing request_id: %s", out)
	}
	if strings.Contains(out, "/healthz") {
		t.Errorf("skipped route was logged: %s", out)
	}
	if n := testutil.CollectAndCount(metrics.RequestSeconds); n != 2 {
		t.Errorf("request series = %d, want 2", n)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	if got := clientIP(r); got != "10.0.0.1" {
		t.Errorf("clientIP = %q", got)
	}
	r.RemoteAddr = "10.0.0.2"
	if got := clientIP(r); got != "10.0.0.2" {
		t.Errorf("clientIP = %q", got)
	}
}
