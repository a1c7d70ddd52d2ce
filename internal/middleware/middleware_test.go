package middleware_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-risk-api/internal/middleware"
	"github.com/noah-isme/student-risk-api/internal/observability"
)

func TestRequestIDPropagation(t *testing.T) {
	app := fiber.New()
	app.Use(middleware.RequestID())
	app.Get("/", func(c *fiber.Ctx) error {
		fromCtx := middleware.RequestIDFromContext(c.UserContext())
		return c.SendString(middleware.RequestIDFrom(c) + "|" + fromCtx)
	})

	cases := []struct {
		name   string
		header string
		value  string
		want   string
	}{
		{name: "request id header", header: "X-Request-ID", value: "req-123", want: "req-123"},
		{name: "correlation header fallback", header: "X-Correlation-ID", value: "corr-9", want: "corr-9"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(tc.header, tc.value)
			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, tc.want, resp.Header.Get(middleware.RequestIDHeader))

			body := new(bytes.Buffer)
			_, err = body.ReadFrom(resp.Body)
			require.NoError(t, err)
			require.Equal(t, tc.want+"|"+tc.want, body.String())
		})
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.Len(t, resp.Header.Get(middleware.RequestIDHeader), 36)

	oversized := httptest.NewRequest(http.MethodGet, "/", nil)
	oversized.Header.Set("X-Request-ID", strings.Repeat("a", 200))
	resp, err = app.Test(oversized)
	require.NoError(t, err)
	require.Len(t, resp.Header.Get(middleware.RequestIDHeader), 36)
}

func TestWithRequestIDIgnoresBlank(t *testing.T) {
	ctx := middleware.WithRequestID(context.Background(), "  ")
	require.Empty(t, middleware.RequestIDFromContext(ctx))

	ctx = middleware.WithRequestID(context.TODO(), " abc ")
	require.Equal(t, "abc", middleware.RequestIDFromContext(ctx))
}

func TestObservabilityLogsAndCountsRequests(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(&logs)

	app := fiber.New()
	middleware.Register(app, middleware.Config{Logger: &logger})
	app.Post("/api/v1/predictions", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusBadRequest).SendString("bad")
	})
	app.Get("/metrics", observability.MetricsHandler())

	counter := observability.HTTPRequests().WithLabelValues(http.MethodPost, "/api/v1/predictions", "400")
	before := testutil.ToFloat64(counter)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/predictions", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Equal(t, before+1, testutil.ToFloat64(counter))
	require.Contains(t, logs.String(), `"message":"request completed with client error"`)
	require.Contains(t, logs.String(), `"component":"http"`)
	require.Contains(t, logs.String(), `"request_id":"`)

	logs.Reset()
	_, err = app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	require.Empty(t, logs.String())
}

func TestRecoverReturnsServerError(t *testing.T) {
	app := fiber.New()
	middleware.Register(app, middleware.Config{})
	app.Get("/panic", func(*fiber.Ctx) error {
		panic("boom")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/panic", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestCORSHonoursAllowedOrigins(t *testing.T) {
	app := fiber.New()
	middleware.Register(app, middleware.Config{AllowOrigins: "https://dashboard.example.edu"})
	app.Get("/api/v1/health", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	allowed := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	allowed.Header.Set("Origin", "https://dashboard.example.edu")
	resp, err := app.Test(allowed)
	require.NoError(t, err)
	require.Equal(t, "https://dashboard.example.edu", resp.Header.Get("Access-Control-Allow-Origin"))

	other := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	other.Header.Set("Origin", "https://elsewhere.example.com")
	resp, err = app.Test(other)
	require.NoError(t, err)
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))

	open := fiber.New()
	middleware.Register(open, middleware.Config{})
	open.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	anyOrigin := httptest.NewRequest(http.MethodGet, "/", nil)
	anyOrigin.Header.Set("Origin", "https://elsewhere.example.com")
	resp, err = open.Test(anyOrigin)
	require.NoError(t, err)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
