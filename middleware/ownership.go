package middleware

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/storyslip/storyslip-server/pkg/apperrors"
	"github.com/storyslip/storyslip-server/utils"
)

// WidgetOwnershipChecker reports whether a widget belongs to a user.
type WidgetOwnershipChecker interface {
	OwnedBy(ctx context.Context, widgetID string, userID int64) (bool, error)
}

// RequireWidgetOwnership guards management routes carrying a :widget_id
// parameter. Widgets owned by someone else answer exactly like missing
// ones. Runs after JWTAuth.
func RequireWidgetOwnership(store WidgetOwnershipChecker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, err := utils.UserIDFromContext(c)
			if err != nil {
				return err
			}

			owned, err := store.OwnedBy(c.Request().Context(), c.Param("widget_id"), userID)
			if err != nil {
				return apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to check widget", err)
			}
			if !owned {
				return apperrors.NewNotFound(apperrors.ErrCodeWidgetNotFound, "widget not found")
			}
			return next(c)
		}
	}
}
