package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/student-risk-api/internal/observability"
)

const metricsPath = "/metrics"

// Observability counts and times every request and writes one access log line.
// Scrapes are not recorded; health probes are logged at debug level.
func Observability(logger zerolog.Logger) fiber.Handler {
	observability.RegisterMetrics()

	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start)

		if c.Path() == metricsPath {
			return err
		}

		route := routeTemplate(c)
		method := c.Method()
		status := c.Response().StatusCode()

		observability.HTTPRequests().WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		observability.HTTPLatency().WithLabelValues(method, route).Observe(elapsed.Seconds())

		var event *zerolog.Event
		switch {
		case status >= fiber.StatusInternalServerError:
			event = logger.Error()
		case status >= fiber.StatusBadRequest:
			event = logger.Warn()
		case isHealthProbe(route):
			event = logger.Debug()
		default:
			event = logger.Info()
		}

		event.
			Str("request_id", RequestIDFrom(c)).
			Str("method", method).
			Str("route", route).
			Int("status", status).
			Int("bytes_in", len(c.Request().Body())).
			Int("bytes_out", len(c.Response().Body())).
			Dur("latency", elapsed).
			Msg(accessMessage(status))

		return err
	}
}

func routeTemplate(c *fiber.Ctx) string {
	if route := c.Route(); route != nil && route.Path != "" {
		return route.Path
	}
	return c.Path()
}

func isHealthProbe(route string) bool {
	return route == "/" || route == "/api/v1/health"
}

func accessMessage(status int) string {
	switch {
	case status >= fiber.StatusInternalServerError:
		return "request failed"
	case status >= fiber.StatusBadRequest:
		return "request completed with client error"
	default:
		return "request completed"
	}
}
