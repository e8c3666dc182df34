package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// RetryAfter is the time left in the current window when the call was refused.
	RetryAfter time.Duration
}

// FixedWindowLimiter limits calls per key in fixed windows shared through Redis.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	redisClient *redis.Client
	redisPrefix string
}

// RedisConfig configures a Redis-backed limiter.
type RedisConfig struct {
	Addr     string
	Password string
	Prefix   string
	Limit    int
	Window   time.Duration
}

// NewRedisFixedWindowLimiter creates a Redis-backed distributed limiter.
func NewRedisFixedWindowLimiter(cfg RedisConfig) (*FixedWindowLimiter, error) {
	if cfg.Limit <= 0 || cfg.Window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "studymate:ratelimit"
	}
	return &FixedWindowLimiter{
		limit:  cfg.Limit,
		window: cfg.Window,
		now:    time.Now,
		redisClient: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Password,
		}),
		redisPrefix: prefix,
	}, nil
}

// Allow counts one call for key. Redis failures are returned together with a
// refusing decision, so callers fail closed unless they choose otherwise.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l == nil {
		return Decision{}, errors.New("rate limiter not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	nowMs := l.now().UTC().UnixMilli()
	slot := nowMs / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.redisPrefix, key, slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := fixedWindowScript.Run(ctx, l.redisClient, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return Decision{RetryAfter: l.window}, fmt.Errorf("rate limit redis: %w", err)
	}
	if count <= int64(l.limit) {
		return Decision{Allowed: true}, nil
	}
	remaining := time.Duration((slot+1)*windowMs-nowMs) * time.Millisecond
	return Decision{RetryAfter: remaining}, nil
}

// Close releases the Redis connection pool.
func (l *FixedWindowLimiter) Close() error {
	if l == nil || l.redisClient == nil {
		return nil
	}
	return l.redisClient.Close()
}
