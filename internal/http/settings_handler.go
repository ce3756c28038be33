package http

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"sitepulse/internal/pkg/validation"
	"sitepulse/internal/settings"
)

type excludedIPsParams struct {
	IPs []string `json:"ips" validate:"max=500,dive,max=64"`
}

// ExcludedIPsAction lists the addresses whose traffic is never recorded.
func ExcludedIPsAction(ctx *cartridge.Context) error {
	ips, err := settings.GetExcludedIPs(ctx.DBManager.GetConnection())
	if err != nil {
		return respondQueryError(ctx, err, "excluded_ips")
	}
	return ctx.JSON(fiber.Map{"ips": ips})
}

// UpdateExcludedIPsAction replaces the excluded address list.
func UpdateExcludedIPsAction(ctx *cartridge.Context) error {
	var params excludedIPsParams
	if err := ctx.BodyParser(&params); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}
	if err := validation.ValidateStruct(&params); err != nil {
		return respondQueryError(ctx, err, "excluded_ips")
	}

	ips, err := settings.UpdateExcludedIPs(ctx.DBManager.GetConnection(), params.IPs)
	if err != nil {
		return respondQueryError(ctx, err, "excluded_ips")
	}

	ctx.Logger.Info("Excluded IPs updated", slog.Int("count", len(ips)))
	return ctx.JSON(fiber.Map{"ips": ips})
}
