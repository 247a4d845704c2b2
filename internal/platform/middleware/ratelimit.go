package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/ehr/portal/internal/platform/auth"
)

// RateLimitConfig sizes the per-caller token buckets.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// ExpiresIn drops a caller's bucket after this long without requests.
	ExpiresIn time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		BurstSize:         40,
		ExpiresIn:         3 * time.Minute,
	}
}

// rateKey buckets authenticated users by id and everyone else by IP.
func rateKey(c echo.Context) (string, error) {
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		return "user:" + uid, nil
	}
	return "ip:" + c.RealIP(), nil
}

// RateLimit answers 429 with Retry-After once a caller drains its bucket.
// Mount it after the auth middleware so buckets are keyed by user.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.ExpiresIn <= 0 {
		cfg.ExpiresIn = DefaultRateLimitConfig().ExpiresIn
	}
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)
	retryAfter := "1"
	if cfg.RequestsPerSecond > 0 && cfg.RequestsPerSecond < 1 {
		retryAfter = strconv.Itoa(int(math.Ceil(1 / cfg.RequestsPerSecond)))
	}

	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.RequestsPerSecond),
		Burst:     cfg.BurstSize,
		ExpiresIn: cfg.ExpiresIn,
	})

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store:               store,
		IdentifierExtractor: rateKey,
		BeforeFunc: func(c echo.Context) {
			c.Response().Header().Set("X-RateLimit-Limit", limit)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "cannot identify caller")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			c.Response().Header().Set("Retry-After", retryAfter)
			c.Response().Header().Set("X-RateLimit-Remaining", "0")
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}
