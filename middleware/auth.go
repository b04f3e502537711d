package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/storyslip/storyslip-server/pkg/apperrors"
	"github.com/storyslip/storyslip-server/utils"
)

// JWTAuth guards the management API. It expects an Authorization: Bearer
// header carrying a session token.
func JWTAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return apperrors.NewUnauthorized(apperrors.ErrCodeTokenInvalid, "Authentication required")
			}

			token := strings.TrimPrefix(header, "Bearer ")
			if token == header || token == "" {
				return apperrors.NewUnauthorized(apperrors.ErrCodeTokenInvalid, "Malformed Authorization header")
			}

			claims, err := utils.ParseJWT(token)
			if err != nil {
				return apperrors.NewUnauthorized(apperrors.ErrCodeTokenInvalid, "Invalid or expired token")
			}

			c.Set(utils.ContextKeyUserID, claims.UserID)
			c.Set(utils.ContextKeyEmail, claims.Email)
			return next(c)
		}
	}
}
