package httpserver

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/errify/internal/adapter/metrics"
	apperrors "github.com/pscheid92/errify/internal/platform/errors"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

// newMemoryRateLimitStore approximates "requests per window" with a token
// bucket refilled at requests/window and a burst of requests.
func newMemoryRateLimitStore(requests int, window time.Duration) middleware.RateLimiterStore {
	return middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(float64(requests) / window.Seconds()),
			Burst:     requests,
			ExpiresIn: rateLimiterExpiry,
		},
	)
}

// newRateLimiter answers denied requests itself: echo hands the handler
// results to c.Error, bypassing ErrorHandlingMiddleware.
func newRateLimiter(store middleware.RateLimiterStore, m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		ErrorHandler: func(c echo.Context, err error) error {
			return writeError(c, m, apperrors.InternalError("failed to identify client", err))
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return writeError(c, m, apperrors.RateLimitedError("too many requests, please try again later"))
		},
	})
}
