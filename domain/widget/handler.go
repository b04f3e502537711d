package widget

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/storyslip/storyslip-server/pkg/apperrors"
	"github.com/storyslip/storyslip-server/pkg/logger"
	"github.com/storyslip/storyslip-server/utils"
)

// Handler serves the public delivery endpoints and the authenticated
// management CRUD.
type Handler struct {
	svc     *Service
	store   *Store
	tracker eventTracker
	log     logger.Logger
}

func NewHandler(svc *Service, store *Store, tracker eventTracker, log logger.Logger) *Handler {
	return &Handler{svc: svc, store: store, tracker: tracker, log: log}
}

// RenderHandler is the public, unauthenticated render endpoint.
// GET /widgets/public/:widget_id/render?format=json|html
func (h *Handler) RenderHandler(c echo.Context) error {
	widgetID := c.Param("widget_id")
	params, err := parseRenderParams(c)
	if err != nil {
		return err
	}

	ctx := logger.WithWidgetIDContext(c.Request().Context(), widgetID)

	start := time.Now()
	res, err := h.svc.Deliver(ctx, widgetID, params, c.Request().Header.Get("If-None-Match"))
	if err != nil {
		return err
	}

	h.setCacheHeaders(c, res)
	c.Response().Header().Set("X-Render-Time", fmt.Sprintf("%dms", time.Since(start).Milliseconds()))

	if res.NotModified {
		return c.NoContent(http.StatusNotModified)
	}

	if c.QueryParam("format") == "html" {
		return c.HTML(http.StatusOK, composeDocument(res.Envelope))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    res.Envelope,
	})
}

func (h *Handler) setCacheHeaders(c echo.Context, res *DeliverResult) {
	header := c.Response().Header()
	header.Set("ETag", res.ETag)
	maxAge := int(res.MaxAge.Seconds())
	header.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
	if res.CacheStatus != "" {
		header.Set("X-Cache-Status", res.CacheStatus)
	}
}

// composeDocument wraps the envelope into one standalone HTML document for
// format=html consumers (previews, no-JS embeds).
func composeDocument(env *Envelope) string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	sb.WriteString("<style>")
	sb.WriteString(env.CSS)
	sb.WriteString("</style>\n</head>\n<body>\n")
	sb.WriteString(env.HTML)
	sb.WriteString("\n<script>")
	sb.WriteString(env.JS)
	sb.WriteString("</script>\n")
	if len(env.Metadata.StructuredData) > 0 {
		sb.WriteString(`<script type="application/ld+json">`)
		sb.Write(env.Metadata.StructuredData)
		sb.WriteString("</script>\n")
	}
	sb.WriteString("</body>\n</html>")
	return sb.String()
}

func parseRenderParams(c echo.Context) (RenderParams, error) {
	params := RenderParams{
		Page:      1,
		Search:    c.QueryParam("search"),
		Category:  c.QueryParam("category"),
		Tag:       c.QueryParam("tag"),
		Author:    c.QueryParam("author"),
		SortBy:    c.QueryParam("sort_by"),
		SortOrder: c.QueryParam("sort_order"),
	}

	if raw := c.QueryParam("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return params, apperrors.NewBadRequest(apperrors.ErrCodeInvalidPage, "page must be a positive integer")
		}
		params.Page = page
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return params, apperrors.NewBadRequest(apperrors.ErrCodeInvalidLimit, "limit must be a positive integer")
		}
		params.Limit = limit
	}
	return params, nil
}

// TrackHandler is the public analytics beacon.
// POST /widgets/public/:widget_id/track
//
// The response is success-shaped regardless of whether the event was
// accepted, so a full buffer or bad payload never surfaces as an embed
// error on someone's site.
func (h *Handler) TrackHandler(c echo.Context) error {
	widgetID := c.Param("widget_id")

	req := new(TrackRequest)
	if err := c.Bind(req); err != nil {
		h.log.Warn("malformed track payload", logger.WidgetID(widgetID))
		return c.JSON(http.StatusOK, map[string]bool{"success": true})
	}
	if req.EventType == "" {
		req.EventType = "widget_view"
	}
	if req.EventData == nil {
		req.EventData = map[string]interface{}{}
	}
	req.EventData["ip"] = c.RealIP()
	req.EventData["user_agent"] = c.Request().UserAgent()

	if h.tracker != nil {
		if !h.tracker.Track(req.EventType, widgetID, req.WebsiteID, req.EventData) {
			h.log.Warn("analytics event dropped",
				logger.WidgetID(widgetID), logger.EventType(req.EventType))
		}
	}

	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// CreateHandler creates a widget under a website the caller owns.
// POST /websites/:website_id/widgets
func (h *Handler) CreateHandler(c echo.Context) error {
	websiteID := c.Param("website_id")
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

	req := new(CreateWidgetRequest)
	if err := c.Bind(req); err != nil {
		return apperrors.NewBadRequest(apperrors.ErrCodeInvalidInput, "Invalid request body")
	}
	if err := validateWidgetRequest(req); err != nil {
		return err
	}

	w, err := h.store.Create(c.Request().Context(), websiteID, req)
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to create widget", err)
	}
	return c.JSON(http.StatusCreated, w)
}

// ListHandler lists a website's widgets.
// GET /websites/:website_id/widgets
func (h *Handler) ListHandler(c echo.Context) error {
	websiteID := c.Param("website_id")
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

	widgets, err := h.store.ListByWebsite(c.Request().Context(), websiteID)
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to list widgets", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"widgets": widgets})
}

// GetHandler fetches one widget the caller owns.
// GET /widgets/:widget_id
func (h *Handler) GetHandler(c echo.Context) error {
	w, err := h.ownedWidget(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w)
}

// UpdateHandler overwrites a widget's configuration.
// PUT /widgets/:widget_id
func (h *Handler) UpdateHandler(c echo.Context) error {
	if _, err := h.ownedWidget(c); err != nil {
		return err
	}

	req := new(CreateWidgetRequest)
	if err := c.Bind(req); err != nil {
		return apperrors.NewBadRequest(apperrors.ErrCodeInvalidInput, "Invalid request body")
	}
	if err := validateWidgetRequest(req); err != nil {
		return err
	}

	w, err := h.store.Update(c.Request().Context(), c.Param("widget_id"), req)
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to update widget", err)
	}
	if w == nil {
		return apperrors.NewNotFound(apperrors.ErrCodeWidgetNotFound, "widget not found")
	}
	return c.JSON(http.StatusOK, w)
}

// DeleteHandler removes a widget.
// DELETE /widgets/:widget_id
func (h *Handler) DeleteHandler(c echo.Context) error {
	if _, err := h.ownedWidget(c); err != nil {
		return err
	}
	if err := h.store.Delete(c.Request().Context(), c.Param("widget_id")); err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to delete widget", err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Widget deleted"})
}

// ownedWidget loads the widget and verifies ownership. Widgets the caller
// does not own look identical to missing ones.
func (h *Handler) ownedWidget(c echo.Context) (*Widget, error) {
	widgetID := c.Param("widget_id")
	userID, err := utils.UserIDFromContext(c)
	if err != nil {
		return nil, err
	}

	owned, err := h.store.OwnedBy(c.Request().Context(), widgetID, userID)
	if err != nil {
		return nil, apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to check widget", err)
	}
	if !owned {
		return nil, apperrors.NewNotFound(apperrors.ErrCodeWidgetNotFound, "widget not found")
	}

	w, err := h.store.GetByID(c.Request().Context(), widgetID)
	if err != nil {
		return nil, apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to load widget", err)
	}
	if w == nil {
		return nil, apperrors.NewNotFound(apperrors.ErrCodeWidgetNotFound, "widget not found")
	}
	return w, nil
}

func validateWidgetRequest(req *CreateWidgetRequest) error {
	if req.Name == "" {
		return apperrors.NewBadRequest(apperrors.ErrCodeMissingField, "Widget name is required")
	}
	switch req.Type {
	case TypeContentList, TypeBlogHub, TypeFeaturedPosts, TypeCategoryGrid:
	default:
		return apperrors.NewBadRequest(apperrors.ErrCodeInvalidInput, "Unknown widget type: "+req.Type)
	}
	if req.Layout != "" {
		switch req.Layout {
		case LayoutGrid, LayoutList, LayoutCarousel:
		default:
			return apperrors.NewBadRequest(apperrors.ErrCodeInvalidInput, "Unknown layout: "+req.Layout)
		}
	}
	if req.Theme != "" {
		switch req.Theme {
		case ThemeModern, ThemeMinimal, ThemeClassic:
		default:
			return apperrors.NewBadRequest(apperrors.ErrCodeInvalidInput, "Unknown theme: "+req.Theme)
		}
	}
	return nil
}
