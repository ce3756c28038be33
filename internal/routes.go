package internal

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "sitepulse/api/v1"
	"sitepulse/internal/config"
	"sitepulse/internal/http"
	"sitepulse/internal/pkg/metrics"
	"sitepulse/internal/settings"
)

// publicCORSConfig lets the tracker post from any site it is embedded in.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Referrer, User-Agent",
}

// MountAppRoutes mounts the tracking, reporting and operational routes.
func MountAppRoutes(srv *cartridge.Server) {
	cfg := config.GetConfig()
	logger := srv.GetLogger()

	if err := settings.SetupDefaultSettings(srv.GetDBManager().GetConnection()); err != nil {
		logger.Error("Failed to set up default settings", slog.Any("error", err))
	}

	// Rate limiting would get in the way of tests and local development.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 70 requests per minute per IP covers a busy tab: pulses every 10s plus clicks.
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Ingestion is called from third-party pages, so fetch-site checks stay off.
	ingestionConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		CustomMiddleware:   []fiber.Handler{publicRateLimiter},
		CORSConfig:         publicCORSConfig,
		EnableSecFetchSite: cartridge.Bool(false),
	}

	scriptConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		CustomMiddleware:   []fiber.Handler{publicRateLimiter},
		CORSConfig:         publicCORSConfig,
		EnableSecFetchSite: cartridge.Bool(false),
	}

	reportingConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
	}

	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)
	srv.Get("/metrics", func(ctx *cartridge.Context) error {
		return metrics.Handler()(ctx.Ctx)
	}, reportingConfig)

	// === INGESTION ===
	srv.Post("/tracking/init", v1.InitSessionHandler, ingestionConfig)
	srv.Options("/tracking/init", v1.PreflightHandler, ingestionConfig)
	srv.Post("/tracking/event", v1.TrackEventHandler, ingestionConfig)
	srv.Options("/tracking/event", v1.PreflightHandler, ingestionConfig)
	srv.Post("/tracking/pulse", v1.PulseHandler, ingestionConfig)
	srv.Options("/tracking/pulse", v1.PreflightHandler, ingestionConfig)
	srv.Post("/tracking/identify", v1.IdentifyHandler, ingestionConfig)
	srv.Options("/tracking/identify", v1.PreflightHandler, ingestionConfig)

	srv.Get("/tracking/script.js", v1.GetTrackerScriptAction, scriptConfig)

	// === REPORTING ===
	srv.Get("/tracking/summary", http.SummaryAction, reportingConfig)
	srv.Get("/tracking/contact-activity", http.ContactActivityAction, reportingConfig)
	srv.Get("/tracking/visitor-sessions", http.VisitorSessionsAction, reportingConfig)
	srv.Get("/tracking/heatmap", http.HeatmapAction, reportingConfig)
	srv.Get("/tracking/geo", http.GeoAction, reportingConfig)

	srv.Get("/tracking/settings/excluded-ips", http.ExcludedIPsAction, reportingConfig)
	srv.Post("/tracking/settings/excluded-ips", http.UpdateExcludedIPsAction, reportingConfig)
}
