package health

import (
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/storyslip/storyslip-server/pkg/cache"
	"github.com/storyslip/storyslip-server/pkg/monitor"
)

type Handler struct {
	db    *sqlx.DB
	cache cache.Store
	mon   *monitor.Monitor
	start time.Time
}

func NewHandler(db *sqlx.DB, cacheStore cache.Store, mon *monitor.Monitor) *Handler {
	return &Handler{db: db, cache: cacheStore, mon: mon, start: time.Now()}
}

// HealthHandler reports component reachability.
// GET /health
//
// A cache outage degrades the status but keeps it 200; the public render
// path keeps working without the cache.
func (h *Handler) HealthHandler(c echo.Context) error {
	ctx := c.Request().Context()
	status := http.StatusOK
	overall := "ok"

	dbStatus := "ok"
	if err := h.db.PingContext(ctx); err != nil {
		dbStatus = "down"
		overall = "down"
		status = http.StatusServiceUnavailable
	}

	cacheStatus := "ok"
	if h.cache == nil {
		cacheStatus = "disabled"
	} else if err := h.cache.Ping(ctx); err != nil {
		cacheStatus = "down"
		if overall == "ok" {
			overall = "degraded"
		}
	}

	return c.JSON(status, map[string]interface{}{
		"status":         overall,
		"uptime_seconds": int64(time.Since(h.start).Seconds()),
		"components": map[string]string{
			"database": dbStatus,
			"cache":    cacheStatus,
		},
	})
}

// AlertsHandler exposes recent performance alerts.
// GET /monitoring/alerts
func (h *Handler) AlertsHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"alerts": h.mon.Alerts()})
}

// StatsHandler exposes per-route request statistics and resource
// snapshots.
// GET /monitoring/stats
func (h *Handler) StatsHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"routes":    h.mon.Stats(),
		"snapshots": h.mon.Snapshots(),
	})
}
