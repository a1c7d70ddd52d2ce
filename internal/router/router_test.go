package router_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-risk-api/internal/config"
	"github.com/noah-isme/student-risk-api/internal/handler"
	"github.com/noah-isme/student-risk-api/internal/router"
	"github.com/noah-isme/student-risk-api/internal/service"
)

func TestRegisterWiresRoutesWithoutModel(t *testing.T) {
	logger := zerolog.Nop()
	svc := service.NewPredictionService(nil, nil, nil, nil, service.PredictionOptions{}, logger)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Student Risk API"}, router.Dependencies{
		PredictionHandler: handler.NewPredictionHandler(svc, logger),
		Readiness:         svc,
	})

	cases := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{method: http.MethodGet, path: "/", status: fiber.StatusOK},
		{method: http.MethodGet, path: "/api/v1/health", status: fiber.StatusOK},
		{method: http.MethodGet, path: "/metrics", status: fiber.StatusOK},
		{method: http.MethodGet, path: "/info", status: fiber.StatusOK},
		{method: http.MethodGet, path: "/api/v1/model", status: fiber.StatusOK},
		{method: http.MethodGet, path: "/diagnose", status: fiber.StatusServiceUnavailable},
		{method: http.MethodGet, path: "/api/v1/diagnostics", status: fiber.StatusServiceUnavailable},
		{method: http.MethodPost, path: "/predict", body: `{"avg_score":35}`, status: fiber.StatusServiceUnavailable},
		{method: http.MethodPost, path: "/api/v1/predictions", body: `{"avg_score":35}`, status: fiber.StatusServiceUnavailable},
		{method: http.MethodPost, path: "/predict_batch", body: `{"students":[{"avg_score":35}]}`, status: fiber.StatusServiceUnavailable},
		{method: http.MethodPost, path: "/api/v1/predictions/batch", body: `{"students":[{"avg_score":35}]}`, status: fiber.StatusServiceUnavailable},
		{method: http.MethodGet, path: "/api/v1/unknown", status: fiber.StatusNotFound},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(tc.body))
		if tc.body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, tc.status, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestRegisterSetsApplicationHeader(t *testing.T) {
	app := fiber.New()
	router.Register(app, config.Config{AppName: "Student Risk API"}, router.Dependencies{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.NoError(t, err)
	require.Equal(t, "Student Risk API", resp.Header.Get("X-Application"))
}
