package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimitExhaustsBurst(t *testing.T) {
	handler := RateLimit(1, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	status := func() int {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/studies", nil))
		return rec.Code
	}

	if got := status(); got != http.StatusOK {
		t.Fatalf("first request inside burst should pass, got %d", got)
	}
	if got := status(); got != http.StatusOK {
		t.Fatalf("second request inside burst should pass, got %d", got)
	}
	if got := status(); got != http.StatusTooManyRequests {
		t.Fatalf("request beyond the burst should be rejected, got %d", got)
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	called := false
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/studies", nil))

	if called {
		t.Fatal("preflight must not reach the next handler")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("missing CORS headers on preflight")
	}
}
