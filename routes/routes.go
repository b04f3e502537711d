package routes

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/storyslip/storyslip-server/domain/apikey"
	"github.com/storyslip/storyslip-server/domain/auth"
	"github.com/storyslip/storyslip-server/domain/branding"
	"github.com/storyslip/storyslip-server/domain/health"
	"github.com/storyslip/storyslip-server/domain/widget"
	"github.com/storyslip/storyslip-server/middleware"
	"github.com/storyslip/storyslip-server/pkg/cache"
	"github.com/storyslip/storyslip-server/pkg/logger"
)

// Handlers collects everything the router mounts.
type Handlers struct {
	Auth     *auth.Handler
	Widget   *widget.Handler
	APIKey   *apikey.Handler
	Branding *branding.Handler
	Health   *health.Handler

	KeySvc      *apikey.Service
	WidgetStore *widget.Store
	Cache       cache.Store
	Log         logger.Logger
}

const (
	publicIPLimit  = 300
	publicIPWindow = time.Minute
)

// Setup mounts all routes.
//
// The public group is wide open on CORS: render responses are embedded on
// arbitrary customer sites. The management group stays on the default
// policy and a session token.
func Setup(e *echo.Echo, h *Handlers) {
	e.GET("/health", h.Health.HealthHandler)

	// Public embed surface.
	public := e.Group("")
	public.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, "If-None-Match"},
	}))
	public.Use(middleware.IPRateLimit(h.Cache, publicIPLimit, publicIPWindow, h.Log))

	public.GET("/widgets/script.js", h.Widget.ScriptHandler)
	public.GET("/embed/widget.js", h.Widget.ScriptHandler)
	public.GET("/widgets/public/:widget_id/render", h.Widget.RenderHandler)
	public.POST("/widgets/public/:widget_id/track", h.Widget.TrackHandler)
	public.POST("/widgets/:widget_id/track", h.Widget.TrackHandler)

	// Programmatic content API, metered per key.
	api := e.Group("/api/v1")
	api.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, "X-API-Key", "If-None-Match"},
	}))
	api.Use(middleware.RequireAPIKey(h.KeySvc, apikey.PermissionRead))
	api.Use(middleware.KeyRateLimit(h.KeySvc, h.Log))
	api.GET("/widgets/:widget_id/render", h.Widget.RenderHandler)

	// Management console.
	e.POST("/auth/login", h.Auth.LoginHandler)

	mgmt := e.Group("", middleware.JWTAuth())
	mgmt.GET("/auth/me", h.Auth.MeHandler)

	mgmt.POST("/websites/:website_id/widgets", h.Widget.CreateHandler)
	mgmt.GET("/websites/:website_id/widgets", h.Widget.ListHandler)
	mgmt.GET("/websites/:website_id/branding", h.Branding.GetHandler)
	mgmt.PUT("/websites/:website_id/branding", h.Branding.UpsertHandler)
	mgmt.GET("/widgets/:widget_id", h.Widget.GetHandler)
	mgmt.PUT("/widgets/:widget_id", h.Widget.UpdateHandler)
	mgmt.DELETE("/widgets/:widget_id", h.Widget.DeleteHandler)

	keys := mgmt.Group("/widgets/:widget_id/api-keys",
		middleware.RequireWidgetOwnership(h.WidgetStore))
	keys.POST("", h.APIKey.CreateHandler)
	keys.GET("", h.APIKey.ListHandler)
	keys.DELETE("/:key_id", h.APIKey.RevokeHandler)

	mgmt.GET("/monitoring/alerts", h.Health.AlertsHandler)
	mgmt.GET("/monitoring/stats", h.Health.StatsHandler)
}
