package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/response"
)

// Limiter decides whether subject may make one more request.
type Limiter interface {
	Allow(ctx context.Context, subject string) (bool, error)
}

// RateLimiter implements a simple in-process token bucket per subject.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // Tokens per interval
	interval time.Duration // Refill interval
}

type visitor struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a RateLimiter (e.g., 10 requests per minute).
func NewRateLimiter(rate int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		interval: interval,
	}
}

// StartCleanup drops idle visitors until ctx is cancelled.
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// Allow takes one token from subject's bucket.
func (rl *RateLimiter) Allow(_ context.Context, subject string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[subject]
	if !exists {
		v = &visitor{tokens: rl.rate, lastSeen: time.Now()}
		rl.visitors[subject] = v
	}

	// Refill tokens based on elapsed time.
	elapsed := time.Since(v.lastSeen)
	refill := int(elapsed/rl.interval) * rl.rate
	if refill > 0 {
		v.tokens += refill
		if v.tokens > rl.rate {
			v.tokens = rl.rate
		}
		v.lastSeen = time.Now()
	}

	if v.tokens <= 0 {
		return false, nil
	}
	v.tokens--
	return true, nil
}

// Middleware returns a Gin middleware that rate-limits requests by IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return Limit(rl, zerolog.Nop())
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, v := range rl.visitors {
		if time.Since(v.lastSeen) > 3*rl.interval {
			delete(rl.visitors, ip)
		}
	}
}

// RedisLimiter is a fixed-window counter shared by every server instance.
type RedisLimiter struct {
	rdb    *redis.Client
	scope  string
	limit  int
	window time.Duration
}

// NewRedisLimiter allows limit requests per window for each subject in scope.
func NewRedisLimiter(rdb *redis.Client, scope string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, scope: scope, limit: limit, window: window}
}

// Allow increments the subject's counter for the current window.
func (l *RedisLimiter) Allow(ctx context.Context, subject string) (bool, error) {
	slot := time.Now().UnixNano() / int64(l.window)
	key := config.CacheKey.RateLimitKey(l.scope, subject, slot)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(l.limit), nil
}

// Limit rejects requests once the caller runs out of budget. Authenticated
// callers are limited per user, anonymous ones per client IP. A limiter
// failure lets the request through.
func Limit(l Limiter, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := "ip:" + c.ClientIP()
		if claims := GetClaims(c); claims != nil {
			subject = "user:" + strconv.Itoa(claims.UserID)
		}

		ok, err := l.Allow(c.Request.Context(), subject)
		if err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("Rate limiter unavailable")
			c.Next()
			return
		}
		if !ok {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
