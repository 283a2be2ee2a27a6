package api

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/openpress/reviewforms/internal/registry"
)

// ResolveContext validates the :context_id route parameter against
// the contexts table and stores the id and primary locale for
// downstream handlers.
func ResolveContext(store *registry.Store) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			idStr := c.Param("context_id")
			if idStr == "" {
				return echo.NewHTTPError(http.StatusBadRequest, "Publishing context required")
			}
			id, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "Invalid publishing context")
			}

			pubCtx, err := store.GetContext(c.Request().Context(), id)
			if err != nil {
				return echo.NewHTTPError(http.StatusNotFound, "Publishing context not found")
			}

			c.Set("context_id", pubCtx.ID)
			c.Set("primary_locale", pubCtx.PrimaryLocale)
			return next(c)
		}
	}
}

// RateLimit applies a per-client token bucket to incoming requests,
// keyed by the client address.
func RateLimit(perSecond float64, burst int) echo.MiddlewareFunc {
	var mu sync.Mutex
	visitors := make(map[string]*rate.Limiter)

	limiterFor := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		limiter, ok := visitors[ip]
		if !ok {
			limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
			visitors[ip] = limiter
		}
		return limiter
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiterFor(c.RealIP()).Allow() {
				return echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests")
			}
			return next(c)
		}
	}
}
