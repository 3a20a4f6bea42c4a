package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"facturador/pkg/platform/httputil"
	"facturador/pkg/platform/middleware/metadata"
	"facturador/pkg/requestcontext"
)

// Middleware enforces a per-caller request cap. Authenticated requests are
// keyed by actor so one client cannot starve another behind a shared NAT;
// anonymous requests fall back to the client IP.
type Middleware struct {
	limiter Limiter
	limit   int
	window  time.Duration
	logger  *slog.Logger
}

// NewMiddleware builds the middleware. A non-positive limit disables it and
// Handler becomes a pass-through.
func NewMiddleware(limiter Limiter, limit int, window time.Duration, logger *slog.Logger) *Middleware {
	if window <= 0 {
		window = time.Minute
	}
	return &Middleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		logger:  logger,
	}
}

// Handler wraps next with the rate check. Limiter failures fail open: losing
// Redis should degrade protection, not take the billing API down.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	if m.limit <= 0 || m.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := requestcontext.Actor(ctx)
		if key == "" {
			key = "ip:" + metadata.GetClientIP(ctx)
		}

		result, err := m.limiter.Allow(ctx, key, m.limit, m.window)
		if err != nil {
			m.logger.ErrorContext(ctx, "rate limit check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			retryAfter := result.RetryAfter()
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			m.logger.WarnContext(ctx, "rate limit exceeded", "key", key)
			httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":       "rate_limit_exceeded",
				"message":     "too many requests, slow down",
				"retry_after": retryAfter,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
