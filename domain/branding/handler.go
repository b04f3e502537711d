package branding

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/storyslip/storyslip-server/pkg/apperrors"
	"github.com/storyslip/storyslip-server/utils"
)

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// GetHandler returns a website's branding, falling back to defaults when
// none is configured.
// GET /websites/:website_id/branding
func (h *Handler) GetHandler(c echo.Context) error {
	websiteID := c.Param("website_id")
	if err := h.requireOwnership(c, websiteID); err != nil {
		return err
	}

	b, err := h.store.GetByWebsiteID(c.Request().Context(), websiteID)
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to load branding", err)
	}
	return c.JSON(http.StatusOK, b)
}

// UpsertHandler creates or replaces a website's branding.
// PUT /websites/:website_id/branding
func (h *Handler) UpsertHandler(c echo.Context) error {
	websiteID := c.Param("website_id")
	if err := h.requireOwnership(c, websiteID); err != nil {
		return err
	}

	b := new(Branding)
	if err := c.Bind(b); err != nil {
		return apperrors.NewBadRequest(apperrors.ErrCodeInvalidInput, "Invalid request body")
	}
	b.WebsiteID = websiteID

	if err := h.store.Upsert(c.Request().Context(), b); err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to save branding", err)
	}

	saved, err := h.store.GetByWebsiteID(c.Request().Context(), websiteID)
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to load branding", err)
	}
	return c.JSON(http.StatusOK, saved)
}

func (h *Handler) requireOwnership(c echo.Context, websiteID string) error {
	userID, err := utils.UserIDFromContext(c)
	if err != nil {
		return err
	}

	owned, err := h.store.WebsiteOwnedBy(c.Request().Context(), websiteID, userID)
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to check website", err)
	}
	if !owned {
		return apperrors.NewNotFound(apperrors.ErrCodeWebsiteNotFound, "website not found")
	}
	return nil
}
