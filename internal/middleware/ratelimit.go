package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/farepay/farepay-api/internal/pkg/logger"
	"github.com/farepay/farepay-api/internal/pkg/metrics"
	"github.com/farepay/farepay-api/internal/pkg/response"
)

// RateLimiter allows limit requests per window for each caller. With Redis the
// count is a fixed window shared by all instances; without it each instance
// keeps a token bucket per caller.
type RateLimiter struct {
	scope  string
	limit  int
	window time.Duration
	redis  *redis.Client

	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter for scope; redisClient may be nil.
func NewRateLimiter(scope string, limit int, window time.Duration, redisClient *redis.Client) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		scope:    scope,
		limit:    limit,
		window:   window,
		redis:    redisClient,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Middleware rejects callers over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := callerID(r)

		allowed, err := rl.Allow(r.Context(), id)
		if err != nil {
			// Limiter backend failures must not block payments
			logger.FromContext(r.Context()).Warn().Err(err).Str("scope", rl.scope).Msg("Rate limiter unavailable")
			allowed = rl.allowLocal(id)
		}
		if !allowed {
			metrics.RateLimitedTotal.WithLabelValues(rl.scope).Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			response.TooManyRequests(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow reports whether id may make another request.
func (rl *RateLimiter) Allow(ctx context.Context, id string) (bool, error) {
	if rl.redis == nil {
		return rl.allowLocal(id), nil
	}

	bucket := rl.now().UnixNano() / int64(rl.window)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", rl.scope, id, bucket)

	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(rl.limit), nil
}

func (rl *RateLimiter) allowLocal(id string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[id]
	if !ok {
		every := rl.window / time.Duration(rl.limit)
		v = &visitor{limiter: rate.NewLimiter(rate.Every(every), rl.limit)}
		rl.visitors[id] = v
	}
	v.lastSeen = now

	if len(rl.visitors) > 10000 {
		for key, other := range rl.visitors {
			if now.Sub(other.lastSeen) > rl.window {
				delete(rl.visitors, key)
			}
		}
	}
	return v.limiter.AllowN(now, 1)
}

// callerID prefers the authenticated user, falling back to the client IP.
func callerID(r *http.Request) string {
	if id := GetUserID(r.Context()); id != uuid.Nil {
		return "user:" + id.String()
	}
	ip := getClientIP(r)
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return "ip:" + ip
}
