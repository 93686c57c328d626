// Package gateway provides API gateway functionality including rate limiting
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Jaidealistic/CEREBRO/internal/config"
	"github.com/Jaidealistic/CEREBRO/internal/observability"
)

const (
	keyPrefix     = "cerebro:ratelimit"
	window        = time.Minute
	defaultPerMin = 120

	// unmatchedRoute labels requests that hit no registered route.
	unmatchedRoute = "unmatched"
)

// fixedWindow increments the per-window counter and starts its expiry on
// the first hit.
var fixedWindow = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// RateLimiter enforces per-client, per-endpoint request budgets in redis.
type RateLimiter struct {
	redis   redis.Cmdable
	logger  *zap.Logger
	metrics *observability.Metrics
	config  config.RateLimitConfig
}

// Result contains the result of a rate limit check
type Result struct {
	Allowed    bool
	Remaining  int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
	Reason     string
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(redisClient redis.Cmdable, cfg config.RateLimitConfig, logger *zap.Logger, metrics *observability.Metrics) *RateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultPerMin
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		redis:   redisClient,
		logger:  logger.With(zap.String("component", "ratelimit")),
		metrics: metrics,
		config:  cfg,
	}
}

// Limit returns the per-minute budget for method and path.
func (rl *RateLimiter) Limit(method, path string) int {
	limit := rl.config.RequestsPerMinute
	ep, ok := rl.config.Endpoints[method+":"+path]
	if !ok {
		return limit
	}
	if ep.RequestsPerMinute > 0 && ep.RequestsPerMinute < limit {
		limit = ep.RequestsPerMinute
	}
	if ep.CostMultiplier > 1 {
		limit /= ep.CostMultiplier
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// Check performs a rate limit check. Redis failures allow the request.
func (rl *RateLimiter) Check(ctx context.Context, clientID, path, method string) *Result {
	limit := rl.Limit(method, path)
	key := fmt.Sprintf("%s:%s:%s:%s", keyPrefix, clientID, method, path)
	now := time.Now()

	count, err := fixedWindow.Run(ctx, rl.redis, []string{key}, window.Milliseconds()).Int()
	if err != nil {
		rl.logger.Warn("rate limit check failed, allowing request", zap.Error(err))
		return &Result{Allowed: true, Limit: limit, Remaining: limit}
	}

	ttl, err := rl.redis.PTTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}

	res := &Result{
		Allowed:   count <= limit,
		Remaining: max(limit-count, 0),
		Limit:     limit,
		ResetAt:   now.Add(ttl),
	}
	if !res.Allowed {
		res.RetryAfter = ttl
		res.Reason = "Rate limit exceeded"
	}
	return res
}

// Middleware returns an HTTP middleware for rate limiting. Clients are
// identified by remote IP, so it belongs after middleware.RealIP.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if !rl.config.Enabled || rl.redis == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := rl.Check(r.Context(), clientIP(r), r.URL.Path, r.Method)

		if rl.config.IncludeHeaders {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			if !result.ResetAt.IsZero() {
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
			}
		}

		if !result.Allowed {
			rl.metrics.ObserveRateLimited(rl.routeLabel(r))
			retry := int(result.RetryAfter.Round(time.Second).Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"error":"rate_limit_exceeded","message":"%s","retry_after":%d}`, result.Reason, retry)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// routeLabel names the route r will be served by, so metric labels stay
// bounded no matter which paths clients send. Outside a chi router only
// configured endpoints keep their path.
func (rl *RateLimiter) routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.Routes != nil {
		tctx := chi.NewRouteContext()
		if rctx.Routes.Match(tctx, r.Method, r.URL.Path) {
			return tctx.RoutePattern()
		}
		return unmatchedRoute
	}
	if _, ok := rl.config.Endpoints[r.Method+":"+r.URL.Path]; ok {
		return r.URL.Path
	}
	return unmatchedRoute
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
