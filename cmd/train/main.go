package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/student-risk-api/internal/anomaly"
	"github.com/noah-isme/student-risk-api/internal/config"
	"github.com/noah-isme/student-risk-api/internal/database"
	"github.com/noah-isme/student-risk-api/internal/repository"
	"github.com/noah-isme/student-risk-api/internal/training"
)

type trainFlags struct {
	dataDir    string
	outputDir  string
	source     string
	driver     string
	dsn        string
	seed       int64
	trees      int
	maxSamples int
	testSize   float64
	batchSize  int
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := zerolog.New(os.Stderr).Level(cfg.LogLevel).With().Timestamp().Logger()
	defaults := anomaly.DefaultOptions()
	flags := &trainFlags{}

	rootCmd := &cobra.Command{
		Use:           "train",
		Short:         "Train the student risk model",
		Long:          "Aggregates per-student course tables, fits the scaler, encoders and isolation forest, and writes the model bundle.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := runTraining(ctx, flags, logger); err != nil {
				logger.Error().Err(err).Msg("training failed")
				return err
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.driver, "driver", cfg.TrainingDriver, "database driver for --source db (postgres or sqlite)")
	rootCmd.PersistentFlags().StringVar(&flags.dsn, "dsn", cfg.TrainingDSN, "database DSN for --source db")

	rootCmd.Flags().StringVar(&flags.dataDir, "data-dir", cfg.TrainingDataDir, "directory holding the course CSV exports")
	rootCmd.Flags().StringVar(&flags.outputDir, "out", cfg.ModelDir, "directory the model bundle is written to")
	rootCmd.Flags().StringVar(&flags.source, "source", cfg.TrainingSource, "training data source (csv or db)")
	rootCmd.Flags().Int64Var(&flags.seed, "seed", defaults.Seed, "random seed for the split and the forest")
	rootCmd.Flags().IntVar(&flags.trees, "trees", defaults.NumTrees, "number of isolation trees")
	rootCmd.Flags().IntVar(&flags.maxSamples, "max-samples", defaults.MaxSamples, "rows sampled per tree")
	rootCmd.Flags().Float64Var(&flags.testSize, "test-size", training.DefaultTestSize, "share of students held out for evaluation")
	rootCmd.Flags().IntVar(&flags.batchSize, "batch-size", 5000, "rows fetched per query with --source db")

	rootCmd.AddCommand(newMigrateCommand(flags, logger))
	return rootCmd
}

func newMigrateCommand(flags *trainFlags, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the raw course tables used by --source db",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(flags)
			if err != nil {
				return err
			}
			if err := repo.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate training tables: %w", err)
			}
			logger.Info().Str("driver", flags.driver).Msg("training tables migrated")
			return nil
		},
	}
}

func runTraining(ctx context.Context, flags *trainFlags, logger zerolog.Logger) error {
	source, err := buildSource(flags)
	if err != nil {
		return err
	}

	pipeline := training.NewPipeline(source, training.Options{
		OutputDir: flags.outputDir,
		TestSize:  flags.testSize,
		Forest: anomaly.Options{
			NumTrees:   flags.trees,
			MaxSamples: flags.maxSamples,
			Seed:       flags.seed,
		},
	}, logger)

	report, err := pipeline.Run(ctx)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

func buildSource(flags *trainFlags) (training.Source, error) {
	switch flags.source {
	case "", "csv":
		return training.NewCSVSource(flags.dataDir), nil
	case "db":
		repo, err := openRepository(flags)
		if err != nil {
			return nil, err
		}
		return training.NewDBSource(repo), nil
	default:
		return nil, fmt.Errorf("unknown training source %q", flags.source)
	}
}

func openRepository(flags *trainFlags) (repository.TrainingDataRepository, error) {
	if flags.dsn == "" {
		return nil, fmt.Errorf("--dsn is required for the database source")
	}

	db, err := database.Open(flags.driver, flags.dsn)
	if err != nil {
		return nil, fmt.Errorf("connect training database: %w", err)
	}
	return repository.NewTrainingDataRepository(db, flags.batchSize), nil
}
