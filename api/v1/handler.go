package v1

import (
	"errors"
	"log/slog"
	"math"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"sitepulse/internal/pkg/validation"
	"sitepulse/internal/tracking"
	"sitepulse/internal/visitors"
)

const (
	errInvalidRequest  = "Invalid request"
	errSessionNotFound = "Session not found"
)

// InitSessionParams is the body of POST /tracking/init.
type InitSessionParams struct {
	VisitorKey       string             `json:"visitor_unique_id" validate:"max=128"`
	Referrer         string             `json:"referrer" validate:"max=2048"`
	URL              string             `json:"url" validate:"max=2048"`
	UTMParams        visitors.UTMParams `json:"utm_params"`
	ScreenResolution string             `json:"screen_resolution" validate:"max=32"`
	Timezone         string             `json:"timezone" validate:"max=64"`
}

// TrackEventParams is the body of POST /tracking/event.
type TrackEventParams struct {
	SessionID SessionID      `json:"session_id" validate:"required"`
	Type      string         `json:"type" validate:"required,max=64"`
	URL       string         `json:"url" validate:"max=2048"`
	Data      map[string]any `json:"data"`
}

// PulseParams is the body of POST /tracking/pulse.
type PulseParams struct {
	SessionID SessionID `json:"session_id" validate:"required"`
	Duration  *float64  `json:"duration" validate:"required,min=0"`
}

// IdentifyParams is the body of POST /tracking/identify.
type IdentifyParams struct {
	SessionID SessionID `json:"session_id" validate:"required"`
	Email     string    `json:"email" validate:"required,email,max=320"`
	Name      string    `json:"name" validate:"max=200"`
}

func bindParams(ctx *cartridge.Context, params any) error {
	if err := parseBody(ctx.Ctx, params); err != nil {
		ctx.Logger.Debug("Failed to parse tracking request",
			slog.String("path", ctx.Path()),
			slog.Any("error", err))
		return fiber.NewError(http.StatusBadRequest, errInvalidRequest)
	}
	return validation.ValidateStruct(params)
}

// respondError maps ingestion errors to status codes. Store failures are
// reported generically; the tracker ignores them.
func respondError(ctx *cartridge.Context, err error, failure string) error {
	var fiberErr *fiber.Error
	var validationErr *validation.ValidationError
	switch {
	case errors.As(err, &fiberErr):
		return ctx.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
	case errors.As(err, &validationErr):
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error":  errInvalidRequest,
			"fields": validationErr.Fields,
		})
	case tracking.IsSessionNotFound(err):
		return ctx.Status(http.StatusNotFound).JSON(fiber.Map{"error": errSessionNotFound})
	default:
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": failure})
	}
}

// InitSessionHandler starts or resumes the caller's session.
func InitSessionHandler(ctx *cartridge.Context) error {
	var params InitSessionParams
	if err := bindParams(ctx, &params); err != nil {
		return respondError(ctx, err, "")
	}

	result, err := tracking.InitSession(ctx.DBManager, ctx.Logger, &tracking.InitSessionInput{
		VisitorKey:       params.VisitorKey,
		Referrer:         params.Referrer,
		URL:              params.URL,
		UTM:              params.UTMParams,
		ScreenResolution: params.ScreenResolution,
		Timezone:         params.Timezone,
		IPAddress:        getClientIP(ctx.Ctx),
		UserAgent:        userAgent(ctx.Ctx),
	})
	if err != nil {
		return respondError(ctx, err, "Failed to initialize session")
	}

	return ctx.Status(http.StatusOK).JSON(result)
}

// TrackEventHandler records an interaction on an existing session.
func TrackEventHandler(ctx *cartridge.Context) error {
	var params TrackEventParams
	if err := bindParams(ctx, &params); err != nil {
		return respondError(ctx, err, "")
	}

	err := tracking.TrackEvent(ctx.DBManager, ctx.Logger, &tracking.TrackEventInput{
		SessionID: params.SessionID.String(),
		Type:      params.Type,
		URL:       params.URL,
		Data:      params.Data,
	})
	if err != nil {
		return respondError(ctx, err, "Failed to track event")
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"success": true})
}

// PulseHandler records a heartbeat with the time spent on the page.
func PulseHandler(ctx *cartridge.Context) error {
	var params PulseParams
	if err := bindParams(ctx, &params); err != nil {
		return respondError(ctx, err, "")
	}

	err := tracking.Pulse(ctx.DBManager, ctx.Logger, &tracking.PulseInput{
		SessionID: params.SessionID.String(),
		Duration:  int(math.Round(*params.Duration)),
	})
	if err != nil {
		return respondError(ctx, err, "Failed to record pulse")
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"success": true})
}

// IdentifyHandler attaches contact details to the session's visitor.
func IdentifyHandler(ctx *cartridge.Context) error {
	var params IdentifyParams
	if err := bindParams(ctx, &params); err != nil {
		return respondError(ctx, err, "")
	}

	err := tracking.Identify(ctx.DBManager, ctx.Logger, &tracking.IdentifyInput{
		SessionID: params.SessionID.String(),
		Email:     params.Email,
		Name:      params.Name,
	})
	if err != nil {
		return respondError(ctx, err, "Failed to identify visitor")
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"success": true})
}

// PreflightHandler answers CORS preflight requests.
func PreflightHandler(ctx *cartridge.Context) error {
	return ctx.SendStatus(fiber.StatusNoContent)
}
