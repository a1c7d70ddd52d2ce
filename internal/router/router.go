package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/student-risk-api/internal/config"
	"github.com/noah-isme/student-risk-api/internal/handler"
	"github.com/noah-isme/student-risk-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	PredictionHandler *handler.PredictionHandler
	Readiness         handler.Readiness
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	health := handler.HealthCheck(cfg, deps.Readiness)
	api.Get("/health", health)
	app.Get("/", health)

	if deps.PredictionHandler != nil {
		deps.PredictionHandler.Register(api)
		deps.PredictionHandler.RegisterLegacy(app)
	}
}
