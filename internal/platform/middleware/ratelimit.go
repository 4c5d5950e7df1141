package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

const (
	sweepInterval  = time.Minute
	minIdleTimeout = time.Minute
	// Used when the rate is zero and a bucket never refills.
	fallbackIdleTimeout = 10 * time.Minute
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per key in process. Buckets left idle
// long enough to have refilled are dropped on a periodic sweep.
type MemoryLimiter struct {
	cfg       RateLimitConfig
	mu        sync.Mutex
	buckets   map[string]*bucket
	now       func() time.Time
	idle      time.Duration
	lastSweep time.Time
}

func NewMemoryLimiter(cfg RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
		idle:    idleTimeout(cfg),
	}
}

// idleTimeout is how long a bucket must sit unused before it is full again.
func idleTimeout(cfg RateLimitConfig) time.Duration {
	if cfg.RequestsPerSecond <= 0 {
		return fallbackIdleTimeout
	}
	refill := time.Duration(float64(cfg.BurstSize) / cfg.RequestsPerSecond * float64(time.Second))
	if refill < minIdleTimeout {
		return minIdleTimeout
	}
	return refill
}

func (l *MemoryLimiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.idle {
			delete(l.buckets, k)
		}
	}
	l.lastSweep = now
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= sweepInterval {
		l.sweep(now)
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.BurstSize)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second, nil
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait, nil
	}
	return true, 0, nil
}

// RedisLimiter counts requests per fixed one-second window in redis so that
// every server instance shares the same budget.
type RedisLimiter struct {
	client redis.Cmdable
	limit  int64
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client redis.Cmdable, cfg RateLimitConfig) *RedisLimiter {
	limit := int64(math.Max(cfg.RequestsPerSecond, 1))
	return &RedisLimiter{client: client, limit: limit, prefix: "frontdesk:ratelimit", now: time.Now}
}

func (l *RedisLimiter) windowKey(key string, now time.Time) string {
	return fmt.Sprintf("%s:%s:%d", l.prefix, key, now.Unix())
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := l.now()
	k := l.windowKey(key, now)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, fmt.Errorf("rate limit counter: %w", err)
	}

	if incr.Val() > l.limit {
		next := now.Truncate(time.Second).Add(time.Second)
		return false, next.Sub(now), nil
	}
	return true, 0, nil
}

// RateLimitWith limits each caller with limiter. Callers are keyed by clinic
// and remote address. A limiter error is logged and lets the request through.
func RateLimitWith(limiter Limiter, cfg RateLimitConfig, logger zerolog.Logger) echo.MiddlewareFunc {
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if clinic, ok := c.Get("jwt_clinic_id").(string); ok && clinic != "" {
				key = clinic + ":" + key
			}

			allowed, wait, err := limiter.Allow(c.Request().Context(), key)
			if err != nil {
				rid, _ := c.Get("request_id").(string)
				logger.Warn().Err(err).
					Str("request_id", rid).
					Str("key", key).
					Msg("rate limiter unavailable, request allowed")
			}
			c.Response().Header().Set("X-RateLimit-Limit", limitHeader)
			if err == nil && !allowed {
				retry := int(math.Ceil(wait.Seconds()))
				if retry < 1 {
					retry = 1
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
