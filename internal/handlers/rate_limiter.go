package handlers

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// rateLimiter admits requests per key. When a request is refused it reports how long
// until the key's window resets.
type rateLimiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

func limiterKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "anonymous"
	}
	return key
}

// windowLimiter counts requests per key in fixed windows that start at the first request.
// Counts are per process.
type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]limitWindow
}

type limitWindow struct {
	count int
	reset time.Time
}

func newWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]limitWindow),
	}
}

func (l *windowLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	key = limiterKey(key)
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || !now.Before(current.reset) {
		l.sweep(now)
		l.windows[key] = limitWindow{count: 1, reset: now.Add(l.window)}
		return true, 0, nil
	}
	if current.count >= l.limit {
		return false, current.reset.Sub(now), nil
	}
	current.count++
	l.windows[key] = current
	return true, 0, nil
}

// sweep drops expired windows; callers hold mu.
func (l *windowLimiter) sweep(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.reset) {
			delete(l.windows, key)
		}
	}
}

// RedisCounter is the subset of *redis.Client used by the shared limiter.
type RedisCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	PExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// redisLimiter shares fixed windows across instances: INCR per request, with the
// expiry set by the first request of a window.
type redisLimiter struct {
	client RedisCounter
	prefix string
	limit  int
	window time.Duration
}

func newRedisLimiter(client RedisCounter, prefix string, limit int, window time.Duration) rateLimiter {
	if client == nil || limit <= 0 || window <= 0 {
		return nil
	}
	return &redisLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

func (l *redisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	redisKey := l.prefix + limiterKey(key)
	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := l.client.PExpire(ctx, redisKey, l.window).Err(); err != nil {
			return false, 0, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	if count <= int64(l.limit) {
		return true, 0, nil
	}
	wait, err := l.client.PTTL(ctx, redisKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit ttl: %w", err)
	}
	if wait <= 0 {
		// the expiry was lost; start a fresh window so the key cannot stick forever
		if err := l.client.PExpire(ctx, redisKey, l.window).Err(); err != nil {
			return false, 0, fmt.Errorf("rate limit expire: %w", err)
		}
		wait = l.window
	}
	return false, wait, nil
}

// retryAfterSeconds rounds wait up to whole seconds, at least one.
func retryAfterSeconds(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
