package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/student-risk-api/internal/middleware"
)

// requestLogger scopes base to the active request id.
func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base.With().Str("path", c.Path()).Logger()
	if id := middleware.RequestIDFrom(c); id != "" {
		logger = logger.With().Str("request_id", id).Logger()
	}
	return &logger
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}
