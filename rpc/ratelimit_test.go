package rpc

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"reads": {RequestsPerMinute: 60, Burst: 1},
	}, nil)

	handler := limiter.Middleware("reads", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesKeysAndClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"a": {RequestsPerMinute: 60, Burst: 1},
		"b": {RequestsPerMinute: 60, Burst: 1},
	}, nil)
	if !limiter.Allow("a", "10.0.0.1") || !limiter.Allow("b", "10.0.0.1") || !limiter.Allow("a", "10.0.0.2") {
		t.Fatalf("expected independent budgets")
	}
	if limiter.Allow("a", "10.0.0.1") {
		t.Fatalf("expected exhausted budget")
	}
	if !limiter.Allow("unconfigured", "10.0.0.1") {
		t.Fatalf("unconfigured keys must not be limited")
	}
}

func TestRateLimiterRefillsAndEvicts(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewRateLimiter(map[string]RateLimit{"a": {RequestsPerMinute: 60, Burst: 1}}, nil)
	limiter.clockNow = func() time.Time { return now }

	if !limiter.Allow("a", "c") || limiter.Allow("a", "c") {
		t.Fatalf("expected one request per burst")
	}
	now = now.Add(time.Second)
	if !limiter.Allow("a", "c") {
		t.Fatalf("expected token to refill after a second")
	}

	now = now.Add(visitorTTL + time.Second)
	limiter.Allow("a", "other")
	limiter.mu.Lock()
	_, kept := limiter.visitors["a|c"]
	limiter.mu.Unlock()
	if kept {
		t.Fatalf("expected idle visitor to be evicted")
	}
}

func TestClientIDPrefersProxyHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	if got := clientID(req); got != "10.0.0.5" {
		t.Fatalf("expected remote host, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientID(req); got != "203.0.113.9" {
		t.Fatalf("expected forwarded client, got %q", got)
	}
	req.Header.Set("X-Real-IP", "198.51.100.4")
	if got := clientID(req); got != "198.51.100.4" {
		t.Fatalf("expected real ip, got %q", got)
	}
}
