package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request identifier in both directions.
	RequestIDHeader = "X-Request-ID"

	correlationHeader = "X-Correlation-ID"
	requestIDLocal    = "request_id"
	maxRequestIDLen   = 128
)

type requestIDKey struct{}

// RequestID tags every request with an identifier, reusing the caller's when it
// sends one, and stores it on the user context for downstream alerts.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := incomingRequestID(c)
		if id == "" {
			id = uuid.NewString()
		}

		c.Locals(requestIDLocal, id)
		c.Set(RequestIDHeader, id)
		c.SetUserContext(WithRequestID(c.UserContext(), id))

		return c.Next()
	}
}

func incomingRequestID(c *fiber.Ctx) string {
	for _, header := range []string{RequestIDHeader, correlationHeader} {
		value := strings.TrimSpace(c.Get(header))
		if value != "" && len(value) <= maxRequestIDLen {
			return value
		}
	}
	return ""
}

// RequestIDFromContext returns the identifier stored by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDFrom returns the identifier of the active request.
func RequestIDFrom(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if id, ok := c.Locals(requestIDLocal).(string); ok {
		return id
	}
	return RequestIDFromContext(c.UserContext())
}

// WithRequestID stores id on ctx. Blank ids leave ctx untouched.
func WithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}
