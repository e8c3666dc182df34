package server

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"studymate/internal/ratelimit"
)

func newRedisLimiter(t *testing.T, addr string, limit int) *ratelimit.FixedWindowLimiter {
	t.Helper()
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(ratelimit.RedisConfig{
		Addr:   addr,
		Prefix: "studymate:test",
		Limit:  limit,
		Window: time.Minute,
	})
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	return limiter
}

func TestAIRateLimitPerUser(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter := newRedisLimiter(t, redis.Addr(), 1)
	tg := newTestGateway(t, func(cfg *Config) { cfg.Limiter = limiter })

	resp1 := tg.do(t, http.MethodPost, "/ai/text-to-speech?text=one", "tok-alice", nil, "")
	expectStatus(t, resp1, http.StatusOK)

	resp2 := tg.do(t, http.MethodPost, "/ai/text-to-speech?text=two", "tok-alice", nil, "")
	expectStatus(t, resp2, http.StatusTooManyRequests)
	retry, err := strconv.Atoi(resp2.Header.Get("Retry-After"))
	if err != nil || retry < 1 || retry > 60 {
		t.Fatalf("expected Retry-After within the window, got %q", resp2.Header.Get("Retry-After"))
	}
	if er := decode[errorResponse](t, resp2); er.Code != "rate_limited" {
		t.Fatalf("unexpected error code %q", er.Code)
	}

	// Another user has their own budget.
	resp3 := tg.do(t, http.MethodPost, "/ai/text-to-speech?text=three", "tok-bob", nil, "")
	expectStatus(t, resp3, http.StatusOK)

	// Non-AI routes are not limited.
	for i := 0; i < 3; i++ {
		expectStatus(t, tg.do(t, http.MethodGet, "/documents/list", "tok-alice", nil, ""), http.StatusOK)
	}
	if texts := tg.speech.recorded(); len(texts) != 2 {
		t.Fatalf("expected two synthesis calls, got %q", texts)
	}
}

func TestAIRateLimitFailsClosed(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter := newRedisLimiter(t, redis.Addr(), 5)
	tg := newTestGateway(t, func(cfg *Config) { cfg.Limiter = limiter })
	redis.Close()

	resp := tg.do(t, http.MethodPost, "/ai/text-to-speech?text=one", "tok-alice", nil, "")
	expectStatus(t, resp, http.StatusServiceUnavailable)
	if texts := tg.speech.recorded(); len(texts) != 0 {
		t.Fatalf("speech must not run while the limiter is down, got %q", texts)
	}
}

func TestRateLimitRunsAfterAuthentication(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter := newRedisLimiter(t, redis.Addr(), 1)
	tg := newTestGateway(t, func(cfg *Config) { cfg.Limiter = limiter })

	for i := 0; i < 3; i++ {
		expectStatus(t, tg.do(t, http.MethodPost, "/ai/text-to-speech", "forged", nil, ""), http.StatusUnauthorized)
	}
	expectStatus(t, tg.do(t, http.MethodPost, "/ai/text-to-speech", "tok-alice", nil, ""), http.StatusOK)
}
