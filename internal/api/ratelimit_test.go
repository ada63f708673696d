package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimit_Disabled(t *testing.T) {
	t.Parallel()
	handler := RateLimit(0)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestRateLimit_BlocksOverLimit(t *testing.T) {
	t.Parallel()
	// rps=1, burst=1: second request from the same IP is blocked.
	handler := RateLimit(1)(okHandler())

	send := func(path string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "5.6.7.8:1234"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := send("/api/v1/properties"); code != http.StatusOK {
		t.Errorf("first request: status = %d, want 200", code)
	}
	if code := send("/api/v1/batches"); code != http.StatusTooManyRequests {
		t.Errorf("second request: status = %d, want 429", code)
	}
}

func TestRateLimit_PerIP(t *testing.T) {
	t.Parallel()
	handler := RateLimit(1)(okHandler())

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := send("1.1.1.1:1000"); code != http.StatusOK {
		t.Errorf("first IP: status = %d, want 200", code)
	}
	// A different IP has its own budget.
	if code := send("2.2.2.2:2000"); code != http.StatusOK {
		t.Errorf("second IP: status = %d, want 200", code)
	}
}

func TestRateLimit_QueueTrafficNeverLimited(t *testing.T) {
	t.Parallel()
	handler := RateLimit(1)(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/queue/prop-1/complete", nil)
		req.RemoteAddr = "9.9.9.9:9999"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("queue request %d: status = %d, want 200", i+1, rr.Code)
		}
	}
}

func TestClientIP_XForwardedFor(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Errorf("clientIP = %q, want first forwarded address", got)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.RemoteAddr = "198.51.100.2:4312"
	if got := clientIP(req2); got != "198.51.100.2" {
		t.Errorf("clientIP = %q, want RemoteAddr without port", got)
	}
}
