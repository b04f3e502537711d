package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/storyslip/storyslip-server/domain/apikey"
	"github.com/storyslip/storyslip-server/pkg/apperrors"
	"github.com/storyslip/storyslip-server/pkg/cache"
	"github.com/storyslip/storyslip-server/pkg/logger"
)

// rateLimiter is what the middleware needs from the key service.
type rateLimiter interface {
	CheckRateLimit(ctx context.Context, key *apikey.APIKey) (apikey.RateLimitStatus, error)
}

// KeyRateLimit enforces each API key's per-window request budget. It must
// run after RequireAPIKey.
//
// When the counter store is unreachable the decision depends on what the
// key can do: read-only keys pass through, because serving cached public
// content during an outage is cheap and harmless, while keys carrying
// write or admin permission are rejected with 503, because unmetered
// mutations are not.
func KeyRateLimit(svc rateLimiter, log logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := KeyFromContext(c)
			if key == nil {
				return apperrors.NewUnauthorized(apperrors.ErrCodeMissingAPIKey, "API key required")
			}

			status, err := svc.CheckRateLimit(c.Request().Context(), key)
			if err != nil {
				if key.CanWrite() {
					log.Error("rate-limit store unreachable, rejecting privileged key", err,
						logger.KeyID(key.ID))
					return apperrors.NewServiceUnavailable(apperrors.ErrCodeRateLimitUnavailable,
						"Rate limiting temporarily unavailable", err)
				}
				log.Warn("rate-limit store unreachable, allowing read-only key",
					logger.Err(err), logger.KeyID(key.ID))
				return next(c)
			}

			setRateLimitHeaders(c, key.RateLimit, status)
			if !status.Allowed {
				return apperrors.NewTooManyRequests(apperrors.ErrCodeRateLimitExceeded,
					"Rate limit exceeded")
			}
			return next(c)
		}
	}
}

func setRateLimitHeaders(c echo.Context, limit int, status apikey.RateLimitStatus) {
	header := c.Response().Header()
	header.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	header.Set("X-RateLimit-Remaining", strconv.Itoa(status.Remaining))
	header.Set("X-RateLimit-Reset", strconv.FormatInt(status.ResetAt.Unix(), 10))
	if !status.Allowed {
		retry := int(time.Until(status.ResetAt).Seconds())
		if retry < 1 {
			retry = 1
		}
		header.Set("Retry-After", strconv.Itoa(retry))
	}
}

// IPRateLimit throttles unauthenticated public endpoints per client IP
// over a fixed window. The public surface fails open on a store outage.
func IPRateLimit(store cache.Store, limit int, window time.Duration, log logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := cache.RateLimitKey(fmt.Sprintf("ip:%s", c.RealIP()), window, time.Now())
			count, err := store.Incr(c.Request().Context(), key, window)
			if err != nil {
				log.Warn("ip rate-limit store unreachable, allowing request",
					logger.Err(err), logger.RemoteIP(c.RealIP()))
				return next(c)
			}
			if count > int64(limit) {
				return apperrors.NewTooManyRequests(apperrors.ErrCodeRateLimitExceeded,
					"Rate limit exceeded")
			}
			return next(c)
		}
	}
}
