package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestRateLimiterBurstAndRefill(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatalf("expected burst of 2 to be allowed")
	}
	if rl.Allow("a") {
		t.Fatalf("expected third request to be limited")
	}
	if !rl.Allow("b") {
		t.Fatalf("expected independent bucket per key")
	}

	now = now.Add(time.Second)
	if !rl.Allow("a") {
		t.Fatalf("expected token to refill after one second")
	}
}

func TestRateLimiterEvict(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }
	rl.Allow("stale")

	now = now.Add(11 * time.Minute)
	rl.evict(10 * time.Minute)
	if len(rl.buckets) != 0 {
		t.Fatalf("expected idle bucket to be evicted, have %d", len(rl.buckets))
	}
}

func TestRateLimiterRunStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewRateLimiter(1, 1).Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Run to return after cancel")
	}
}

func TestRateLimitMiddlewareKeysByCandidate(t *testing.T) {
	mw := RateLimit(NewRateLimiter(0, 1))
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) })

	send := func(subject string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/interviews", nil)
		req.RemoteAddr = "10.0.0.1"
		if subject != "" {
			ctx := context.WithValue(req.Context(), candidateClaimsKey, jwt.RegisteredClaims{Subject: subject})
			req = req.WithContext(ctx)
		}
		rec := httptest.NewRecorder()
		mw(ok).ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("alice"); code != http.StatusCreated {
		t.Fatalf("expected first request allowed, got %d", code)
	}
	if code := send("alice"); code != http.StatusTooManyRequests {
		t.Fatalf("expected second request limited, got %d", code)
	}
	if code := send("bob"); code != http.StatusCreated {
		t.Fatalf("expected other candidate allowed, got %d", code)
	}
	if code := send(""); code != http.StatusCreated {
		t.Fatalf("expected anonymous ip bucket allowed, got %d", code)
	}
}
