package stats

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthzReflectsDegradedMode(t *testing.T) {
	c := &Counters{}
	r := Router(c)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d want 200", rec.Code)
	}

	c.Degraded.Store(true)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d want 503", rec.Code)
	}
}

func TestStatsEndpointReturnsJSON(t *testing.T) {
	c := &Counters{}
	c.AddUp(10)
	r := Router(c)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct == "" {
		t.Fatalf("expected Content-Type header")
	}
}

func TestMetricsEndpointReturnsText(t *testing.T) {
	c := &Counters{}
	r := Router(c)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("expected metrics body")
	}
}
