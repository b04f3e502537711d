package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/viper"

	"github.com/storyslip/storyslip-server/config"
	"github.com/storyslip/storyslip-server/domain/analytics"
	"github.com/storyslip/storyslip-server/domain/apikey"
	"github.com/storyslip/storyslip-server/domain/auth"
	"github.com/storyslip/storyslip-server/domain/branding"
	"github.com/storyslip/storyslip-server/domain/content"
	"github.com/storyslip/storyslip-server/domain/health"
	"github.com/storyslip/storyslip-server/domain/widget"
	"github.com/storyslip/storyslip-server/pkg/apperrors"
	"github.com/storyslip/storyslip-server/pkg/cache"
	"github.com/storyslip/storyslip-server/pkg/logger"
	"github.com/storyslip/storyslip-server/pkg/monitor"
	"github.com/storyslip/storyslip-server/routes"
	"github.com/storyslip/storyslip-server/scripts"
)

func main() {
	config.InitConfig()

	logger.Init(logger.Config{
		Level:       logger.Level(viper.GetString("LOG_LEVEL")),
		Environment: viper.GetString("ENVIRONMENT"),
		ServiceName: "storyslip-server",
		Version:     viper.GetString("APP_VERSION"),
	})
	log := logger.Get()

	config.InitDB()
	defer config.CloseDB()

	cmd := "server"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "server":
		runServer(log)
	case "migrate":
		if err := scripts.Migrate(config.DB.DB); err != nil {
			log.Fatal("migration failed", err)
		}
		log.Info("migrations applied")
	case "seed":
		if err := scripts.Seed(config.DB); err != nil {
			log.Fatal("seeding failed", err)
		}
		log.Info("seed data inserted")
	case "cleanup_keys":
		runKeyCleanup(log)
	default:
		log.Fatal("unknown command", nil, logger.String("command", cmd))
	}
}

// runKeyCleanup deactivates expired API keys once and exits. Meant to run
// from cron alongside the in-process hourly sweep.
func runKeyCleanup(log logger.Logger) {
	svc := apikey.NewService(config.DB, nil, log)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := svc.CleanupExpiredKeys(ctx)
	if err != nil {
		log.Fatal("key cleanup failed", err)
	}
	log.Info("expired keys deactivated", logger.Int64("count", n))
}

func runServer(log logger.Logger) {
	config.InitRedis()
	defer config.CloseRedis()

	var cacheStore cache.Store
	if config.RedisClient != nil {
		cacheStore = cache.NewRedisStore(config.RedisClient)
	} else {
		// Single-process fallback. Fine for development; production should
		// always point REDIS_URL somewhere real.
		log.Warn("redis unavailable, using in-process cache")
		cacheStore = cache.NewMemoryStore()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon := monitor.New(log, monitor.DefaultThresholds())
	mon.StartSnapshots(ctx, 30*time.Second)

	tracker := analytics.NewTracker(analytics.NewSQLSink(config.DB), log,
		viper.GetInt("ANALYTICS_BUFFER_SIZE"))
	defer tracker.Close()

	widgetStore := widget.NewStore(config.DB)
	contentQuery := content.NewQuery(config.DB)
	brandingStore := branding.NewStore(config.DB)
	keySvc := apikey.NewService(config.DB, cacheStore, log)

	widgetSvc := widget.NewService(widgetStore, contentQuery, brandingStore, tracker,
		cacheStore, mon, log, config.RenderCacheTTL(), config.QueryTimeout())

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = apperrors.HTTPErrorHandler(log)
	e.Use(logger.RequestLoggerMiddleware(log))
	e.Use(logger.RecoveryMiddleware(log))
	e.Use(mon.Middleware())
	e.Use(echomw.BodyLimit("1M"))

	routes.Setup(e, &routes.Handlers{
		Auth:        auth.NewHandler(config.DB, log),
		Widget:      widget.NewHandler(widgetSvc, widgetStore, tracker, log),
		APIKey:      apikey.NewHandler(keySvc),
		Branding:    branding.NewHandler(brandingStore),
		Health:      health.NewHandler(config.DB, cacheStore, mon),
		KeySvc:      keySvc,
		WidgetStore: widgetStore,
		Cache:       cacheStore,
		Log:         log,
	})

	startKeySweep(ctx, keySvc, log)

	port := viper.GetString("PORT")
	if port == "" {
		port = "8080"
	}

	go func() {
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			log.Fatal("server start failed", err)
		}
	}()
	log.Info("server started", logger.String("port", port))

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", err)
	}
}

// startKeySweep deactivates expired keys in the background. Validation
// already rejects expired keys on its own, so the sweep only keeps the
// stored is_active flags truthful.
func startKeySweep(ctx context.Context, svc *apikey.Service, log logger.Logger) {
	interval := viper.GetDuration("KEY_SWEEP_INTERVAL")
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				n, err := svc.CleanupExpiredKeys(sweepCtx)
				cancel()
				if err != nil {
					log.Error("expired key sweep failed", err)
					continue
				}
				if n > 0 {
					log.Info("expired keys deactivated", logger.Int64("count", n))
				}
			}
		}
	}()
}
