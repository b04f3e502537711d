package apikey

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/storyslip/storyslip-server/pkg/apperrors"
)

// Handler exposes the authenticated key-management endpoints. These are the
// producers of API-Key Store state; the public delivery path only consumes
// it.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// CreateHandler mints a key for a widget.
// POST /widgets/:widget_id/api-keys
func (h *Handler) CreateHandler(c echo.Context) error {
	widgetID := c.Param("widget_id")

	req := new(CreateKeyRequest)
	if err := c.Bind(req); err != nil {
		return apperrors.NewBadRequest(apperrors.ErrCodeInvalidInput, "Invalid request body")
	}
	if req.Name == "" {
		return apperrors.NewBadRequest(apperrors.ErrCodeMissingField, "Key name is required")
	}

	perms := make([]Permission, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		switch Permission(p) {
		case PermissionRead, PermissionWrite, PermissionAdmin:
			perms = append(perms, Permission(p))
		default:
			return apperrors.NewBadRequest(apperrors.ErrCodeInvalidInput, "Unknown permission: "+p)
		}
	}

	secret, key, err := h.svc.Generate(c.Request().Context(), widgetID, req.Name,
		perms, req.RateLimit, req.ExpiresInDays)
	if err != nil {
		return err
	}

	// The plaintext secret appears in this response and nowhere else.
	return c.JSON(http.StatusCreated, CreateKeyResponse{Key: key, Secret: secret})
}

// ListHandler returns a widget's keys (hashes omitted, prefixes only).
// GET /widgets/:widget_id/api-keys
func (h *Handler) ListHandler(c echo.Context) error {
	keys, err := h.svc.List(c.Request().Context(), c.Param("widget_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"keys": keys})
}

// RevokeHandler deactivates a key immediately.
// DELETE /widgets/:widget_id/api-keys/:key_id
func (h *Handler) RevokeHandler(c echo.Context) error {
	if err := h.svc.Revoke(c.Request().Context(), c.Param("widget_id"), c.Param("key_id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "API key revoked"})
}
