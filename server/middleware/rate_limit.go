// Package middleware holds HTTP middleware for the API server.
package middleware

import (
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimiter keeps a token-bucket limiter per caller.
type RateLimiter struct {
	mu     sync.Mutex
	limits map[string]*rate.Limiter
	rate   rate.Limit
	burst  int
}

// NewRateLimiter creates a limiter allowing perSecond requests with
// the given burst for each distinct key.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &RateLimiter{
		limits: make(map[string]*rate.Limiter),
		rate:   rate.Limit(perSecond),
		burst:  burst,
	}
}

// Allow reports whether a request under key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	limiter, ok := rl.limits[key]
	if !ok {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limits[key] = limiter
	}
	rl.mu.Unlock()
	return limiter.Allow()
}

// RateLimit limits requests per user, falling back to the client IP
// when no user header is present.
func RateLimit(rl *RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get("X-User-ID")
			if key == "" {
				key = c.RealIP()
			}
			if !rl.Allow(key) {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "rate_limited",
				})
			}
			return next(c)
		}
	}
}
