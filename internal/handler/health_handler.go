package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/student-risk-api/internal/artifact"
	"github.com/noah-isme/student-risk-api/internal/config"
	"github.com/noah-isme/student-risk-api/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Service     string            `json:"service"`
	Environment string            `json:"environment"`
	Version     string            `json:"version"`
	ModelLoaded bool              `json:"model_loaded"`
	Endpoints   map[string]string `json:"endpoints"`
}

// Readiness reports whether the model bundle is available.
type Readiness interface {
	Ready() bool
}

// HealthCheck returns a handler that reports application health and model availability.
// The service stays healthy without a model; scoring routes answer 503 instead.
func HealthCheck(cfg config.Config, readiness Readiness) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
			Version:     artifact.ModelVersion,
			ModelLoaded: readiness != nil && readiness.Ready(),
			Endpoints: map[string]string{
				"/api/v1/predictions":           "Single student prediction",
				"/api/v1/predictions/batch":     "Batch prediction",
				"/api/v1/predictions/batch/csv": "Batch prediction from an uploaded CSV file",
				"/api/v1/diagnostics":           "Test prediction on sample data",
			},
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
