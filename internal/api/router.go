// Package api exposes the cycle trigger and read endpoints over HTTP.
package api

import (
	"github.com/gofiber/fiber/v3"
)

// SetupRoutes mounts the handlers under /api
func SetupRoutes(app *fiber.App, h *Handler) {
	api := app.Group("/api")

	api.Get("/arbitrage-cron", h.RunCycle)
	api.Get("/arbitrage/opportunities", h.Opportunities)
	api.Get("/average-spread", h.AverageSpread)
	api.Get("/health", h.Health)
}
