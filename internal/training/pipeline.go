package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/student-risk-api/internal/anomaly"
	"github.com/noah-isme/student-risk-api/internal/artifact"
	"github.com/noah-isme/student-risk-api/internal/features"
	"github.com/noah-isme/student-risk-api/internal/models"
)

// DefaultTestSize is the share of students held out for evaluation.
const DefaultTestSize = 0.3

var (
	// ErrNoData is returned when the source yields no student rows.
	ErrNoData = errors.New("training source returned no students")
	// ErrNoPositives is returned when the training split contains no at-risk students.
	ErrNoPositives = errors.New("training split has no at-risk students")
)

// Options configures a training run.
type Options struct {
	OutputDir string
	TestSize  float64
	Forest    anomaly.Options
}

// Report summarises a finished training run.
type Report struct {
	Source        string        `json:"source"`
	Rows          RowCounts     `json:"rows"`
	Examples      int           `json:"examples"`
	TrainRows     int           `json:"train_rows"`
	TestRows      int           `json:"test_rows"`
	AtRiskRate    float64       `json:"at_risk_rate"`
	Contamination float64       `json:"contamination"`
	F1Score       float64       `json:"f1_score"`
	OutputDir     string        `json:"output_dir"`
	TrainedAt     time.Time     `json:"trained_at"`
	Duration      time.Duration `json:"duration"`
}

// Pipeline turns raw course tables into a persisted artifact bundle.
type Pipeline struct {
	source Source
	opts   Options
	logger zerolog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewPipeline constructs a pipeline. Zero-valued options fall back to defaults.
func NewPipeline(source Source, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.TestSize <= 0 || opts.TestSize >= 1 {
		opts.TestSize = DefaultTestSize
	}
	defaults := anomaly.DefaultOptions()
	if opts.Forest.NumTrees <= 0 {
		opts.Forest.NumTrees = defaults.NumTrees
	}
	if opts.Forest.MaxSamples <= 0 {
		opts.Forest.MaxSamples = defaults.MaxSamples
	}

	return &Pipeline{
		source: source,
		opts:   opts,
		logger: logger.With().Str("component", "training_pipeline").Logger(),
		tracer: otel.Tracer("github.com/noah-isme/student-risk-api/internal/training"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run executes every stage and saves the bundle. The F1 score is reported but never blocks the export.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	started := p.now()
	ctx, span := p.tracer.Start(ctx, "training.run", trace.WithAttributes(
		attribute.String("training.source", p.source.Name()),
		attribute.Int64("training.seed", p.opts.Forest.Seed),
	))
	defer span.End()

	report, err := p.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Report{}, err
	}

	report.Duration = p.now().Sub(started)
	span.SetAttributes(attribute.Float64("training.f1_score", report.F1Score))
	p.logger.Info().
		Float64("f1_score", report.F1Score).
		Dur("duration", report.Duration).
		Str("output_dir", report.OutputDir).
		Msg("training complete")
	return report, nil
}

func (p *Pipeline) run(ctx context.Context) (Report, error) {
	report := Report{Source: p.source.Name(), OutputDir: p.opts.OutputDir}

	collector := NewCollector()
	if err := p.stage(ctx, "training.load", func(ctx context.Context) error {
		return p.source.Collect(ctx, collector)
	}); err != nil {
		return report, fmt.Errorf("load training data: %w", err)
	}
	report.Rows = collector.Counts()
	p.logger.Info().
		Int("students", report.Rows.Students).
		Int("assessments", report.Rows.Assessments).
		Int("interactions", report.Rows.Interactions).
		Int("registrations", report.Rows.Registrations).
		Msg("datasets loaded")

	examples := collector.Examples()
	if len(examples) == 0 {
		return report, ErrNoData
	}
	report.Examples = len(examples)

	encoders := features.FitEncoders(observedCategories(examples))
	builder := features.NewBuilder(encoders, features.UnknownFallback)

	matrix := make([][]float64, len(examples))
	labels := make([]bool, len(examples))
	for i, example := range examples {
		vector, _, err := builder.Build(example.Record)
		if err != nil {
			return report, fmt.Errorf("student %d: %w", example.StudentID, err)
		}
		matrix[i] = vector
		labels[i] = example.AtRisk
	}
	report.AtRiskRate = positiveRate(labels, allIndices(len(labels)))
	p.logger.Info().
		Int("examples", report.Examples).
		Float64("at_risk_rate", report.AtRiskRate).
		Int("categorical_fields", len(encoders)).
		Msg("features prepared")

	scaler, err := features.FitScaler(matrix)
	if err != nil {
		return report, fmt.Errorf("fit scaler: %w", err)
	}
	scaled, err := scaler.TransformAll(matrix)
	if err != nil {
		return report, fmt.Errorf("scale features: %w", err)
	}

	trainIdx, testIdx := stratifiedSplit(labels, p.opts.TestSize, p.opts.Forest.Seed)
	report.TrainRows = len(trainIdx)
	report.TestRows = len(testIdx)

	report.Contamination = math.Min(positiveRate(labels, trainIdx), anomaly.MaxContamination)
	if report.Contamination <= 0 {
		return report, ErrNoPositives
	}

	forestOpts := p.opts.Forest
	forestOpts.Contamination = report.Contamination

	var forest *anomaly.IsolationForest
	if err := p.stage(ctx, "training.fit", func(context.Context) error {
		var fitErr error
		forest, fitErr = anomaly.Fit(selectRows(scaled, trainIdx), forestOpts)
		return fitErr
	}); err != nil {
		return report, fmt.Errorf("fit isolation forest: %w", err)
	}
	p.logger.Info().
		Int("train_rows", report.TrainRows).
		Int("trees", forest.NumTrees).
		Float64("contamination", report.Contamination).
		Msg("model trained")

	if len(testIdx) > 0 {
		predicted, err := forest.PredictAll(selectRows(scaled, testIdx))
		if err != nil {
			return report, fmt.Errorf("evaluate model: %w", err)
		}
		report.F1Score = f1Score(selectLabels(labels, testIdx), predicted)
	}

	report.TrainedAt = p.now()
	bundle := &artifact.Bundle{
		Metadata: artifact.Metadata{
			Version:      artifact.ModelVersion,
			TrainedAt:    report.TrainedAt,
			Seed:         p.opts.Forest.Seed,
			F1Score:      report.F1Score,
			TrainRows:    report.TrainRows,
			TestRows:     report.TestRows,
			FeatureNames: features.FeatureNames(),
		},
		Forest:   forest,
		Scaler:   scaler,
		Encoders: encoders,
	}
	if err := p.stage(ctx, "training.save", func(context.Context) error {
		return artifact.Save(p.opts.OutputDir, bundle)
	}); err != nil {
		return report, fmt.Errorf("save artifacts: %w", err)
	}

	return report, nil
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := p.tracer.Start(ctx, name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func observedCategories(examples []Example) map[string][]string {
	observed := make(map[string][]string, len(models.CategoricalFields))
	for _, example := range examples {
		for i, value := range example.Record.Categoricals() {
			field := models.CategoricalFields[i]
			text := MissingCategory
			if value != nil {
				text = value.String()
			}
			observed[field] = append(observed[field], text)
		}
	}
	return observed
}

func allIndices(n int) []int {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return indices
}
