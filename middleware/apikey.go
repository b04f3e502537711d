package middleware

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/storyslip/storyslip-server/domain/apikey"
	"github.com/storyslip/storyslip-server/pkg/apperrors"
)

// ContextKeyAPIKey holds the validated *apikey.APIKey for downstream
// middleware and handlers.
const ContextKeyAPIKey = "api_key"

// extractSecret pulls the API key from X-API-Key or, failing that, from an
// Authorization: Bearer header.
func extractSecret(c echo.Context) string {
	if key := c.Request().Header.Get("X-API-Key"); key != "" {
		return key
	}
	header := c.Request().Header.Get("Authorization")
	if token := strings.TrimPrefix(header, "Bearer "); token != header {
		return token
	}
	return ""
}

// RequireAPIKey validates the request's API key against the required
// permission and records a usage row after the response is written.
func RequireAPIKey(svc *apikey.Service, required apikey.Permission) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			secret := extractSecret(c)
			if secret == "" {
				return apperrors.NewUnauthorized(apperrors.ErrCodeMissingAPIKey, "API key required")
			}

			v, err := svc.Validate(c.Request().Context(), secret, required)
			if err != nil {
				return apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to validate API key", err)
			}
			if !v.Valid {
				switch v.Reason {
				case apikey.ReasonExpired:
					return apperrors.NewUnauthorized(apperrors.ErrCodeAPIKeyExpired, "API key has expired")
				case apikey.ReasonInsufficientPermission:
					return apperrors.NewForbidden(apperrors.ErrCodeInsufficientPermission, "API key lacks the required permission")
				default:
					return apperrors.NewUnauthorized(apperrors.ErrCodeInvalidAPIKey, "Invalid API key")
				}
			}

			c.Set(ContextKeyAPIKey, v.Key)

			start := time.Now()
			err = next(c)

			status := c.Response().Status
			if appErr, ok := apperrors.AsAppError(err); ok {
				status = appErr.HTTPStatus
			}
			svc.LogUsage(c.Request().Context(), v.Key.ID, c.Path(), c.RealIP(),
				c.Request().UserAgent(), status, time.Since(start).Milliseconds())

			return err
		}
	}
}

// KeyFromContext returns the API key validated for this request, or nil.
func KeyFromContext(c echo.Context) *apikey.APIKey {
	key, _ := c.Get(ContextKeyAPIKey).(*apikey.APIKey)
	return key
}
