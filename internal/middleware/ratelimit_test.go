package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

func entryCount(rl *RateLimiter) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func TestRateLimiterEnforcesBurst(t *testing.T) {
	rl := NewRateLimiter(0.0001, 2, nil)

	lim := rl.getLimiter("u1")
	if !lim.Allow() || !lim.Allow() {
		t.Fatal("burst requests must be allowed")
	}
	if lim.Allow() {
		t.Fatal("request beyond burst must be denied")
	}
}

func TestRateLimiterSweepsIdleEntries(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	current := time.Now()
	rl.now = func() time.Time { return current }

	rl.getLimiter("a")
	rl.getLimiter("b")
	if got := entryCount(rl); got != 2 {
		t.Fatalf("entries = %d, want 2", got)
	}

	current = current.Add(limiterIdleTTL + time.Minute)
	rl.getLimiter("c")

	if got := entryCount(rl); got != 1 {
		t.Fatalf("entries after sweep = %d, want only the live key", got)
	}
}

func TestRateLimiterSweepKeepsActiveEntries(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	current := time.Now()
	rl.now = func() time.Time { return current }

	rl.getLimiter("a")
	current = current.Add(limiterIdleTTL - time.Minute)
	rl.getLimiter("a") // refresh before the TTL

	current = current.Add(2 * time.Minute)
	rl.getLimiter("b") // triggers a sweep; "a" was seen 2m ago

	if got := entryCount(rl); got != 2 {
		t.Fatalf("entries = %d, want 2 (recently seen key kept)", got)
	}
}

func TestRateLimiterHandlerBlocks(t *testing.T) {
	rl := NewRateLimiter(0.0001, 1, nil)
	r := mux.NewRouter()
	r.Use(rl.Handler)
	r.HandleFunc("/v1/users/{id}/session", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	hit := func() int {
		req := httptest.NewRequest(http.MethodGet, "/v1/users/u1/session", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := hit(); code != http.StatusOK {
		t.Fatalf("first request = %d, want 200", code)
	}
	if code := hit(); code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", code)
	}
}
