package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/student-risk-api/internal/artifact"
	"github.com/noah-isme/student-risk-api/internal/config"
	"github.com/noah-isme/student-risk-api/internal/database"
	"github.com/noah-isme/student-risk-api/internal/handler"
	"github.com/noah-isme/student-risk-api/internal/middleware"
	"github.com/noah-isme/student-risk-api/internal/observability"
	"github.com/noah-isme/student-risk-api/internal/risk"
	"github.com/noah-isme/student-risk-api/internal/router"
	"github.com/noah-isme/student-risk-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).Level(cfg.LogLevel).With().Timestamp().Logger()

	bundle, err := artifact.Load(cfg.ModelDir)
	if err != nil {
		event := logger.Warn().Err(err).Str("model_dir", cfg.ModelDir)
		if errors.Is(err, artifact.ErrNotFound) {
			event.Msg("model bundle not found, run the trainer first; scoring endpoints will answer 503")
		} else {
			event.Msg("model bundle rejected; scoring endpoints will answer 503")
		}
		bundle = nil
		observability.ModelLoaded().Set(0)
	} else {
		logger.Info().
			Str("model_dir", cfg.ModelDir).
			Str("version", bundle.Metadata.Version).
			Time("trained_at", bundle.Metadata.TrainedAt).
			Int("n_estimators", bundle.Forest.NumTrees).
			Float64("f1_score", bundle.Metadata.F1Score).
			Msg("model bundle loaded")
		observability.ModelLoaded().Set(1)
	}

	redisClient := connectRedis(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	natsConn := connectNATS(cfg, logger)
	if natsConn != nil {
		defer natsConn.Close()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	alerts := service.NewAlertPublisher(redisClient, natsConn, cfg.AlertsChannel, logger)

	predictionService := service.NewPredictionService(bundle, risk.NewEngine(risk.DefaultConfig()), alerts, validate, service.PredictionOptions{
		UnknownCategoryPolicy: cfg.UnknownCategoryPolicy,
		RowFailurePolicy:      service.RowFailurePolicy(cfg.RowFailurePolicy),
		MaxBatchSize:          cfg.BatchMaxSize,
		Workers:               cfg.BatchWorkers,
		MaxUploadMB:           cfg.CSVMaxSizeMB,
	}, logger)

	predictionHandler := handler.NewPredictionHandler(predictionService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.CSVMaxSizeMB + 1) * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSAllowOrigins})
	router.Register(app, cfg, router.Dependencies{
		PredictionHandler: predictionHandler,
		Readiness:         predictionService,
	})

	go func() {
		logger.Info().Str("address", cfg.HTTPAddress()).Bool("model_loaded", predictionService.Ready()).Msg("server starting")
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, logger)
}

func connectRedis(cfg config.Config, logger zerolog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}

	client, err := database.ConnectRedis(context.Background(), cfg.RedisURL, "student-risk-api")
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, alerts will not be published to redis")
		return nil
	}
	return client
}

func connectNATS(cfg config.Config, logger zerolog.Logger) *nats.Conn {
	if cfg.NATSURL == "" {
		return nil
	}

	conn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable, alerts will not be published to nats")
		return nil
	}
	return conn
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
