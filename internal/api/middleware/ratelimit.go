package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/MrGarbonzo/boardroom-tee/internal/store"
)

// RateLimit defines limits for an endpoint pattern.
type RateLimit struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

// RateLimiter implements fixed-window rate limiting backed by Redis.
// Without Redis it passes everything through; the signed-request nonce
// cache still bounds abuse by registered agents.
type RateLimiter struct {
	redis  *store.RedisStore
	limits map[string]RateLimit
	logger zerolog.Logger
}

// ipKey keys a limit by caller IP.
func ipKey(r *http.Request) string {
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return "ip:" + ip
}

// agentKey keys a limit by authenticated agent, falling back to IP.
func agentKey(r *http.Request) string {
	if identity := r.Header.Get("X-Boardroom-Agent"); identity != "" {
		return "agent:" + identity
	}
	return ipKey(r)
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(redis *store.RedisStore, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redis,
		logger: logger,
		limits: map[string]RateLimit{
			"POST /register":  {30, time.Hour, ipKey},
			"GET /who/":       {120, time.Minute, ipKey},
			"GET /directory":  {60, time.Minute, ipKey},
			"POST /route":     {60, time.Minute, agentKey},
			"POST /relay":     {120, time.Minute, agentKey},
			"GET /inbox":      {120, time.Minute, agentKey},
			"POST /agents/":   {60, time.Minute, agentKey},
			"DELETE /agents/": {10, time.Minute, agentKey},
		},
	}
}

// Middleware enforces the configured limits.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.redis == nil {
			next.ServeHTTP(w, r)
			return
		}

		limit, bucket, ok := rl.match(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		caller := limit.KeyFunc(r)
		count, err := rl.redis.IncrRateLimit(r.Context(), bucket, caller, limit.Window)
		if err != nil {
			// Rate limiting is advisory; never take the API down with it.
			rl.logger.Warn().Err(err).Msg("rate limit backend error")
			next.ServeHTTP(w, r)
			return
		}

		remaining := int64(limit.Requests) - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(limit.Requests) {
			rl.logger.Warn().
				Str("bucket", bucket).
				Str("caller", caller).
				Str("request_id", chimw.GetReqID(r.Context())).
				Msg("rate limit exceeded")
			w.Header().Set("Retry-After", strconv.Itoa(int(limit.Window.Seconds())))
			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// match finds the limit for a request by method + path prefix.
func (rl *RateLimiter) match(r *http.Request) (RateLimit, string, bool) {
	exact := r.Method + " " + r.URL.Path
	if limit, ok := rl.limits[exact]; ok {
		return limit, exact, true
	}
	for pattern, limit := range rl.limits {
		parts := strings.SplitN(pattern, " ", 2)
		if len(parts) != 2 || parts[0] != r.Method {
			continue
		}
		if strings.HasSuffix(parts[1], "/") && strings.HasPrefix(r.URL.Path, parts[1]) {
			return limit, pattern, true
		}
	}
	return RateLimit{}, "", false
}
