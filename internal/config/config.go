package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/noah-isme/student-risk-api/internal/features"
)

// Batch row failure policies.
const (
	RowFailureAbort   = "abort"
	RowFailureIsolate = "isolate"
)

// Config holds runtime configuration values for the API service and the trainer.
type Config struct {
	AppName               string
	AppEnv                string
	AppPort               string
	LogLevel              zerolog.Level
	ModelDir              string
	UnknownCategoryPolicy features.UnknownCategoryPolicy
	RowFailurePolicy      string
	BatchMaxSize          int
	BatchWorkers          int
	CSVMaxSizeMB          int
	RedisURL              string
	NATSURL               string
	AlertsChannel         string
	CORSAllowOrigins      string
	TrainingDataDir       string
	TrainingSource        string
	TrainingDriver        string
	TrainingDSN           string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("RISK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Student Risk API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "5000")
	v.SetDefault("log.level", "info")
	v.SetDefault("model.dir", "models")
	v.SetDefault("model.unknown_category_policy", string(features.UnknownFallback))
	v.SetDefault("batch.row_failure_policy", RowFailureAbort)
	v.SetDefault("batch.max_size", 1000)
	v.SetDefault("batch.workers", 8)
	v.SetDefault("batch.csv_max_mb", 5)
	v.SetDefault("alerts.channel", "risk")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("training.data_dir", "data")
	v.SetDefault("training.source", "csv")
	v.SetDefault("training.driver", "postgres")

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(v.GetString("log.level"))))
	if err != nil {
		return Config{}, fmt.Errorf("invalid log level: %w", err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	policy, err := features.ParseUnknownCategoryPolicy(v.GetString("model.unknown_category_policy"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:               v.GetString("app.name"),
		AppEnv:                v.GetString("app.env"),
		AppPort:               v.GetString("app.port"),
		LogLevel:              level,
		ModelDir:              v.GetString("model.dir"),
		UnknownCategoryPolicy: policy,
		RowFailurePolicy:      strings.ToLower(strings.TrimSpace(v.GetString("batch.row_failure_policy"))),
		BatchMaxSize:          v.GetInt("batch.max_size"),
		BatchWorkers:          v.GetInt("batch.workers"),
		CSVMaxSizeMB:          v.GetInt("batch.csv_max_mb"),
		RedisURL:              v.GetString("redis.url"),
		NATSURL:               v.GetString("nats.url"),
		AlertsChannel:         v.GetString("alerts.channel"),
		CORSAllowOrigins:      strings.TrimSpace(v.GetString("cors.allow_origins")),
		TrainingDataDir:       v.GetString("training.data_dir"),
		TrainingSource:        strings.ToLower(v.GetString("training.source")),
		TrainingDriver:        strings.ToLower(v.GetString("training.driver")),
		TrainingDSN:           v.GetString("training.dsn"),
	}

	switch cfg.RowFailurePolicy {
	case RowFailureAbort, RowFailureIsolate:
	case "":
		cfg.RowFailurePolicy = RowFailureAbort
	default:
		return Config{}, fmt.Errorf("unknown batch row failure policy %q", cfg.RowFailurePolicy)
	}

	if cfg.BatchMaxSize <= 0 {
		cfg.BatchMaxSize = 1000
	}

	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = 8
	}

	if cfg.CSVMaxSizeMB <= 0 {
		cfg.CSVMaxSizeMB = 5
	}

	return cfg, nil
}
