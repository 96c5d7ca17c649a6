package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/pocketmoney/internal/auth"
)

func fakeNow(rl *RateLimiter, start time.Time) *time.Time {
	now := start
	rl.now = func() time.Time { return now }
	return &now
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < 5; i++ {
		if ok, _ := rl.Allow("key", 5, time.Minute); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	if ok, wait := rl.Allow("key", 5, time.Minute); ok || wait <= 0 {
		t.Errorf("6th request: ok = %v wait = %v, want denied with a wait", ok, wait)
	}
	if ok, _ := rl.Allow("other", 5, time.Minute); !ok {
		t.Error("independent key should be allowed")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := NewRateLimiter()
	now := fakeNow(rl, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 3; i++ {
		rl.Allow("key", 3, 10*time.Second)
	}
	if ok, wait := rl.Allow("key", 3, 10*time.Second); ok || wait != 10*time.Second {
		t.Errorf("ok = %v wait = %v, want blocked for 10s", ok, wait)
	}

	*now = now.Add(10 * time.Second)
	if ok, _ := rl.Allow("key", 3, 10*time.Second); !ok {
		t.Error("should be allowed after window expires")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter()
	now := fakeNow(rl, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))

	rl.Allow("expired", 5, time.Second)
	*now = now.Add(2 * time.Second)
	rl.Allow("active", 5, time.Minute)

	rl.Cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.entries["expired"]; ok {
		t.Error("expired entry should have been cleaned up")
	}
	if _, ok := rl.entries["active"]; !ok {
		t.Error("active entry should still exist")
	}
}

func TestRateLimitMiddlewarePerActor(t *testing.T) {
	rl := NewRateLimiter()
	handler := RateLimit(rl, ActorKey, 2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(actor string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/chores/1/complete", nil)
		req = req.WithContext(auth.WithActor(req.Context(), auth.Actor{ID: actor, Role: auth.RoleChild}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := send("maya"); rec.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
	}

	rec := send("maya")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("3rd request: status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if rec := send("leo"); rec.Code != http.StatusOK {
		t.Errorf("other actor: status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestActorKeyFallsBackToIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ActorKey(req); got != "ip:203.0.113.9" {
		t.Errorf("ActorKey = %q, want ip:203.0.113.9", got)
	}
}
