package http

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"sitepulse/internal/analytics"
	"sitepulse/internal/config"
	"sitepulse/internal/pkg/validation"
	"sitepulse/internal/timeframe"
)

// respondQueryError reports a failed aggregation. Store errors are returned
// as-is since only operators call these endpoints.
func respondQueryError(ctx *cartridge.Context, err error, query string) error {
	var validationErr *validation.ValidationError
	if errors.As(err, &validationErr) {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":  validationErr.Error(),
			"fields": validationErr.Fields,
		})
	}

	ctx.Logger.Error("Aggregation query failed",
		slog.String("query", query),
		slog.Any("error", err))
	return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}

// SummaryAction returns the dashboard overview for ?range=today|week|month.
func SummaryAction(ctx *cartridge.Context) error {
	label, err := timeframe.ParseRange(ctx.Query("range"))
	if err != nil {
		return respondQueryError(ctx, err, "summary")
	}

	cfg := config.GetConfig()
	summary, err := analytics.Summary(ctx.UserContext(), ctx.DBManager.GetConnection(), ctx.Logger, analytics.SummaryParams{
		Range:          label,
		Now:            time.Now(),
		Location:       cfg.ReportingLocation(),
		RealtimeWindow: cfg.RealtimeWindow(),
	})
	if err != nil {
		return respondQueryError(ctx, err, "summary")
	}

	return ctx.JSON(summary)
}

// ContactActivityAction returns stats and recent events for ?email=.
func ContactActivityAction(ctx *cartridge.Context) error {
	result, err := analytics.ContactActivity(ctx.DBManager.GetConnection(), ctx.Query("email"))
	if err != nil {
		return respondQueryError(ctx, err, "contact_activity")
	}
	return ctx.JSON(result)
}

// VisitorSessionsAction returns stats, location and recent sessions for ?email=.
func VisitorSessionsAction(ctx *cartridge.Context) error {
	result, err := analytics.VisitorSessions(ctx.DBManager.GetConnection(), ctx.Query("email"))
	if err != nil {
		return respondQueryError(ctx, err, "visitor_sessions")
	}
	return ctx.JSON(result)
}

// HeatmapAction returns click points for ?url=, or the top landing pages
// when no url is given.
func HeatmapAction(ctx *cartridge.Context) error {
	db := ctx.DBManager.GetConnection()

	url := ctx.Query("url")
	if url == "" {
		pages, err := analytics.HeatmapTopPages(db)
		if err != nil {
			return respondQueryError(ctx, err, "heatmap_pages")
		}
		return ctx.JSON(fiber.Map{"pages": pages})
	}

	clicks, err := analytics.HeatmapClicks(db, url)
	if err != nil {
		return respondQueryError(ctx, err, "heatmap_clicks")
	}
	return ctx.JSON(fiber.Map{"clicks": clicks})
}

// GeoAction returns visitor counts per country.
func GeoAction(ctx *cartridge.Context) error {
	stats, err := analytics.GeoStats(ctx.DBManager.GetConnection())
	if err != nil {
		return respondQueryError(ctx, err, "geo")
	}
	return ctx.JSON(stats)
}
