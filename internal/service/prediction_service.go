package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/student-risk-api/internal/anomaly"
	"github.com/noah-isme/student-risk-api/internal/artifact"
	"github.com/noah-isme/student-risk-api/internal/dto"
	"github.com/noah-isme/student-risk-api/internal/features"
	"github.com/noah-isme/student-risk-api/internal/models"
	"github.com/noah-isme/student-risk-api/internal/observability"
	"github.com/noah-isme/student-risk-api/internal/risk"
)

// Model description reported by ModelInfo.
const (
	ModelType        = "Isolation Forest"
	ModelDescription = "Hybrid approach using ML anomaly detection + rule-based risk assessment"
)

// RowFailurePolicy decides what a batch does with a row that cannot be preprocessed.
type RowFailurePolicy string

const (
	// RowFailureAbort fails the whole batch on the first bad row.
	RowFailureAbort RowFailurePolicy = "abort"
	// RowFailureIsolate reports bad rows and summarizes the rest.
	RowFailureIsolate RowFailurePolicy = "isolate"
)

// PredictionOptions tunes the prediction service.
type PredictionOptions struct {
	UnknownCategoryPolicy features.UnknownCategoryPolicy
	RowFailurePolicy      RowFailurePolicy
	MaxBatchSize          int
	Workers               int
	MaxUploadMB           int
}

// PredictionService scores students against the loaded model bundle.
type PredictionService interface {
	Predict(ctx context.Context, record models.StudentRecord) (dto.PredictionResponse, error)
	PredictBatch(ctx context.Context, req dto.BatchPredictionRequest) (dto.BatchPredictionResponse, error)
	PredictCSV(ctx context.Context, file *multipart.FileHeader) (dto.BatchPredictionResponse, error)
	ModelInfo() dto.ModelInfoResponse
	Diagnose(ctx context.Context) (dto.DiagnosisResponse, error)
	Ready() bool
}

type predictionService struct {
	bundle    *artifact.Bundle
	scorer    anomaly.Scorer
	scaler    *features.Scaler
	builder   *features.Builder
	engine    *risk.Engine
	alerts    AlertPublisher
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	opts      PredictionOptions
	logger    zerolog.Logger
	tracer    trace.Tracer
}

type assessment struct {
	label          anomaly.Label
	rawScore       float64
	risk           float64
	level          string
	atRisk         bool
	factors        []risk.Factor
	recommendation string
	warnings       []string
}

type batchInput struct {
	record models.StudentRecord
	err    error
}

type batchOutcome struct {
	assessment assessment
	err        *PreprocessingError
}

// NewPredictionService constructs a prediction service. A nil bundle yields a
// service that reports ErrModelUnavailable for every scoring call.
func NewPredictionService(bundle *artifact.Bundle, engine *risk.Engine, alerts AlertPublisher, validate *validator.Validate, opts PredictionOptions, logger zerolog.Logger) PredictionService {
	svc := newPredictionService(engine, alerts, validate, opts, logger)
	if bundle != nil && bundle.Forest != nil && bundle.Scaler != nil {
		svc.bundle = bundle
		svc.scorer = bundle.Forest
		svc.scaler = bundle.Scaler
		svc.builder = features.NewBuilder(bundle.Encoders, svc.opts.UnknownCategoryPolicy)
	}
	return svc
}

func newPredictionService(engine *risk.Engine, alerts AlertPublisher, validate *validator.Validate, opts PredictionOptions, logger zerolog.Logger) *predictionService {
	if engine == nil {
		engine = risk.NewEngine(risk.DefaultConfig())
	}
	if alerts == nil {
		alerts = noopAlertPublisher{}
	}
	if validate == nil {
		validate = validator.New()
	}
	if opts.RowFailurePolicy == "" {
		opts.RowFailurePolicy = RowFailureAbort
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 1000
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.MaxUploadMB <= 0 {
		opts.MaxUploadMB = 5
	}

	return &predictionService{
		engine:    engine,
		alerts:    alerts,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		opts:      opts,
		logger:    logger.With().Str("component", "prediction_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/student-risk-api/internal/service/prediction"),
	}
}

func (s *predictionService) Ready() bool {
	return s.scorer != nil && s.scaler != nil && s.builder != nil
}

func (s *predictionService) Predict(ctx context.Context, record models.StudentRecord) (dto.PredictionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "prediction.single")
	defer span.End()

	if !s.Ready() {
		span.RecordError(ErrModelUnavailable)
		span.SetStatus(codes.Error, "model unavailable")
		return dto.PredictionResponse{}, ErrModelUnavailable
	}

	if record.IsEmpty() {
		span.RecordError(ErrMissingInput)
		span.SetStatus(codes.Error, "validation failed")
		return dto.PredictionResponse{}, ErrMissingInput
	}

	studentID := s.studentID(record, -1)
	result, err := s.assess(record, studentID)
	if err != nil {
		preprocessErr := &PreprocessingError{Row: -1, StudentID: studentID, Err: err}
		span.RecordError(preprocessErr)
		span.SetStatus(codes.Error, "preprocessing failed")
		return dto.PredictionResponse{}, preprocessErr
	}

	s.observe(ctx, result, studentID)
	span.SetAttributes(
		attribute.Float64("prediction.risk_score", result.risk),
		attribute.String("prediction.risk_level", result.level),
	)
	span.SetStatus(codes.Ok, "scored")

	s.logger.Debug().
		Int("prediction", int(result.label)).
		Float64("anomaly_score", result.rawScore).
		Float64("risk_score", result.risk).
		Msg("student scored")

	return dto.PredictionResponse{
		IsAtRisk:       result.atRisk,
		RiskScore:      result.risk,
		AnomalyScore:   result.rawScore,
		Prediction:     int(result.label),
		Confidence:     risk.Confidence,
		RiskLevel:      result.level,
		RiskFactors:    result.factors,
		Recommendation: result.recommendation,
		Warnings:       result.warnings,
	}, nil
}

func (s *predictionService) PredictBatch(ctx context.Context, req dto.BatchPredictionRequest) (dto.BatchPredictionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "prediction.batch")
	defer span.End()

	if !s.Ready() {
		span.RecordError(ErrModelUnavailable)
		span.SetStatus(codes.Error, "model unavailable")
		return dto.BatchPredictionResponse{}, ErrModelUnavailable
	}

	if len(req.Students) == 0 {
		span.RecordError(ErrMissingInput)
		span.SetStatus(codes.Error, "validation failed")
		return dto.BatchPredictionResponse{}, ErrMissingInput
	}

	if err := s.validateBatch(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return dto.BatchPredictionResponse{}, err
	}

	inputs := make([]batchInput, len(req.Students))
	for i, record := range req.Students {
		inputs[i] = batchInput{record: record}
	}

	resp, err := s.scoreBatch(ctx, inputs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch failed")
		return dto.BatchPredictionResponse{}, err
	}

	span.SetStatus(codes.Ok, "scored")
	return resp, nil
}

func (s *predictionService) PredictCSV(ctx context.Context, file *multipart.FileHeader) (dto.BatchPredictionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "prediction.batch_csv")
	defer span.End()

	maxSize := int64(s.opts.MaxUploadMB) * 1024 * 1024
	span.SetAttributes(attribute.Int64("upload.max_bytes", maxSize))

	if !s.Ready() {
		span.RecordError(ErrModelUnavailable)
		span.SetStatus(codes.Error, "model unavailable")
		return dto.BatchPredictionResponse{}, ErrModelUnavailable
	}

	if file == nil {
		span.RecordError(ErrMissingInput)
		span.SetStatus(codes.Error, "validation failed")
		return dto.BatchPredictionResponse{}, ErrMissingInput
	}

	if file.Size > maxSize {
		span.RecordError(ErrFileTooLarge)
		span.SetStatus(codes.Error, "payload too large")
		return dto.BatchPredictionResponse{}, ErrFileTooLarge
	}

	handle, err := file.Open()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		return dto.BatchPredictionResponse{}, err
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, maxSize+1)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return dto.BatchPredictionResponse{}, err
	}
	if int64(buf.Len()) > maxSize {
		span.RecordError(ErrFileTooLarge)
		span.SetStatus(codes.Error, "payload too large")
		return dto.BatchPredictionResponse{}, ErrFileTooLarge
	}

	fileType := normalizeMime(mimetype.Detect(buf.Bytes()).String())
	span.SetAttributes(attribute.String("upload.detected_mime", fileType))
	if fileType != "text/csv" && fileType != "text/plain" {
		span.RecordError(ErrUnsupportedFile)
		span.SetStatus(codes.Error, "type not allowed")
		return dto.BatchPredictionResponse{}, ErrUnsupportedFile
	}

	inputs, err := parseStudentCSV(buf.Bytes())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return dto.BatchPredictionResponse{}, err
	}
	if len(inputs) == 0 {
		span.RecordError(ErrMissingInput)
		span.SetStatus(codes.Error, "validation failed")
		return dto.BatchPredictionResponse{}, ErrMissingInput
	}
	if err := s.validator.Var(inputs, fmt.Sprintf("max=%d", s.opts.MaxBatchSize)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return dto.BatchPredictionResponse{}, err
	}

	resp, err := s.scoreBatch(ctx, inputs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch failed")
		return dto.BatchPredictionResponse{}, err
	}

	span.SetStatus(codes.Ok, "scored")
	return resp, nil
}

func (s *predictionService) ModelInfo() dto.ModelInfoResponse {
	info := dto.ModelInfoResponse{
		ModelType:   ModelType,
		ModelLoaded: s.Ready(),
		Version:     artifact.ModelVersion,
		Description: ModelDescription,
	}

	if s.bundle != nil {
		if s.bundle.Metadata.Version != "" {
			info.Version = s.bundle.Metadata.Version
		}
		if !s.bundle.Metadata.TrainedAt.IsZero() {
			trainedAt := s.bundle.Metadata.TrainedAt
			info.TrainedAt = &trainedAt
		}
		info.NumEstimators = s.bundle.Forest.NumTrees
		info.Contamination = s.bundle.Forest.Contamination
		info.F1Score = s.bundle.Metadata.F1Score
	}

	return info
}

func (s *predictionService) Diagnose(ctx context.Context) (dto.DiagnosisResponse, error) {
	_, span := s.tracer.Start(ctx, "prediction.diagnose")
	defer span.End()

	if !s.Ready() {
		span.RecordError(ErrModelUnavailable)
		span.SetStatus(codes.Error, "model unavailable")
		return dto.DiagnosisResponse{}, ErrModelUnavailable
	}

	profiles := diagnosticProfiles()
	results := make([]dto.DiagnosisResult, 0, len(profiles))
	for _, profile := range profiles {
		result, err := s.assess(profile.record, profile.name)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "diagnosis failed")
			return dto.DiagnosisResponse{}, fmt.Errorf("diagnose %s: %w", profile.name, err)
		}

		interpretation := "Normal"
		if result.label == anomaly.Anomaly {
			interpretation = "Anomaly"
		}

		results = append(results, dto.DiagnosisResult{
			Student:        profile.name,
			Prediction:     int(result.label),
			AnomalyScore:   result.rawScore,
			RiskScore:      result.risk,
			Interpretation: interpretation,
		})
	}

	span.SetStatus(codes.Ok, "diagnosed")
	return dto.DiagnosisResponse{Diagnosis: results, ModelInfo: s.ModelInfo()}, nil
}

func (s *predictionService) validateBatch(req dto.BatchPredictionRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return err
	}
	return s.validator.Var(req.Students, fmt.Sprintf("max=%d", s.opts.MaxBatchSize))
}

// scoreBatch scores every input on a bounded worker pool. Results keep input order.
func (s *predictionService) scoreBatch(ctx context.Context, inputs []batchInput) (dto.BatchPredictionResponse, error) {
	start := time.Now()
	outcomes := make([]batchOutcome, len(inputs))
	ids := make([]string, len(inputs))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.opts.Workers)
	for i := range inputs {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			ids[i] = s.studentID(inputs[i].record, i)
			if inputs[i].err != nil {
				outcomes[i].err = &PreprocessingError{Row: i, StudentID: ids[i], Err: inputs[i].err}
				return nil
			}

			result, err := s.assess(inputs[i].record, ids[i])
			if err != nil {
				outcomes[i].err = &PreprocessingError{Row: i, StudentID: ids[i], Err: err}
				return nil
			}
			outcomes[i].assessment = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return dto.BatchPredictionResponse{}, err
	}

	resp := dto.BatchPredictionResponse{
		BatchID:     uuid.NewString(),
		Predictions: make([]dto.BatchPredictionRow, 0, len(inputs)),
	}
	scores := make([]float64, 0, len(inputs))
	var firstErr error

	for i, outcome := range outcomes {
		if outcome.err != nil {
			if s.opts.RowFailurePolicy != RowFailureIsolate {
				return dto.BatchPredictionResponse{}, outcome.err
			}
			if firstErr == nil {
				firstErr = outcome.err
			}
			resp.Failures = append(resp.Failures, dto.RowFailure{
				Row:       i,
				StudentID: ids[i],
				Error:     outcome.err.Err.Error(),
			})
			continue
		}

		result := outcome.assessment
		record := inputs[i].record
		s.observe(ctx, result, ids[i])
		scores = append(scores, result.risk)
		resp.Predictions = append(resp.Predictions, dto.BatchPredictionRow{
			StudentID:      ids[i],
			IsAtRisk:       result.atRisk,
			RiskScore:      result.risk,
			AnomalyScore:   result.rawScore,
			Prediction:     int(result.label),
			Confidence:     risk.Confidence,
			RiskLevel:      result.level,
			NumRiskFactors: len(result.factors),
			TopRiskFactors: risk.TopFactorNames(result.factors, 3),
			Recommendation: result.recommendation,
			AvgScore:       features.ValueOr(record.AvgScore, 0),
			TotalClicks:    features.ValueOr(record.TotalClicks, 0),
			NumAssessments: features.ValueOr(record.NumAssessments, 0),
			Warnings:       result.warnings,
		})
	}

	if len(scores) == 0 && firstErr != nil {
		return dto.BatchPredictionResponse{}, firstErr
	}

	resp.Summary = s.engine.Summarize(scores)

	s.logger.Info().
		Str("batch_id", resp.BatchID).
		Int("total_students", resp.Summary.TotalStudents).
		Int("at_risk_count", resp.Summary.AtRiskCount).
		Float64("at_risk_percentage", resp.Summary.AtRiskPercentage).
		Int("failures", len(resp.Failures)).
		Dur("duration", time.Since(start)).
		Msg("batch scored")

	return resp, nil
}

// assess runs the full pipeline for one record: encode, scale, score, then rules.
func (s *predictionService) assess(record models.StudentRecord, studentID string) (assessment, error) {
	vector, fallbacks, err := s.builder.Build(record)
	if err != nil {
		return assessment{}, err
	}

	scaled, err := s.scaler.Transform(vector)
	if err != nil {
		return assessment{}, err
	}

	label, err := s.scorer.Predict(scaled)
	if err != nil {
		return assessment{}, err
	}
	rawScore, err := s.scorer.Score(scaled)
	if err != nil {
		return assessment{}, err
	}

	metrics := features.ResolveMetrics(record)
	score := s.engine.ComputeRisk(rawScore, label, metrics)
	factors := s.engine.Analyze(metrics)

	result := assessment{
		label:          label,
		rawScore:       rawScore,
		risk:           score,
		level:          s.engine.Level(score),
		atRisk:         s.engine.IsAtRisk(score),
		factors:        factors,
		recommendation: s.engine.Recommend(score, factors),
	}

	for _, fallback := range fallbacks {
		observability.EncodingFallbacks().WithLabelValues(fallback.Field).Inc()
		s.logger.Warn().
			Str("student_id", studentID).
			Str("field", fallback.Field).
			Str("value", fallback.Value).
			Int("code", fallback.Code).
			Msg("unknown categorical value")
		result.warnings = append(result.warnings, fallback.String())
	}

	return result, nil
}

// observe records metrics for a scored student and raises an alert for high risk.
func (s *predictionService) observe(ctx context.Context, result assessment, studentID string) {
	observability.Predictions().WithLabelValues(result.level).Inc()
	observability.PredictionScore().Observe(result.risk)

	if result.level != risk.LevelHigh {
		return
	}

	s.alerts.Publish(ctx, RiskAlert{
		StudentID:  studentID,
		RiskScore:  result.risk,
		RiskLevel:  result.level,
		TopFactors: risk.TopFactorNames(result.factors, 3),
	})
}

// studentID returns the sanitized identifier of record, falling back to the row index.
func (s *predictionService) studentID(record models.StudentRecord, row int) string {
	if record.StudentID != nil {
		if id := strings.TrimSpace(s.sanitizer.Sanitize(record.StudentID.String())); id != "" {
			return id
		}
	}
	if row < 0 {
		return ""
	}
	return strconv.Itoa(row)
}

func parseStudentCSV(data []byte) ([]batchInput, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrMissingInput
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var inputs []batchInput
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}

		var input batchInput
		for i, value := range row {
			if i >= len(header) {
				break
			}
			if !models.IsField(header[i]) {
				continue
			}
			if err := input.record.Set(header[i], value); err != nil {
				input.err = err
				break
			}
		}
		inputs = append(inputs, input)
	}

	return inputs, nil
}

func normalizeMime(value string) string {
	if idx := strings.Index(value, ";"); idx >= 0 {
		value = value[:idx]
	}
	return strings.ToLower(strings.TrimSpace(value))
}

type diagnosticProfile struct {
	name   string
	record models.StudentRecord
}

func diagnosticProfiles() []diagnosticProfile {
	samples := []struct {
		name        string
		avgScore    float64
		totalClicks float64
		assessments float64
	}{
		{name: "Excellent Student", avgScore: 90, totalClicks: 1500, assessments: 10},
		{name: "Average Student", avgScore: 65, totalClicks: 700, assessments: 7},
		{name: "Struggling Student", avgScore: 35, totalClicks: 250, assessments: 3},
		{name: "Suspicious Pattern", avgScore: 95, totalClicks: 150, assessments: 5},
	}

	profiles := make([]diagnosticProfile, 0, len(samples))
	for _, sample := range samples {
		record := baseDiagnosticRecord()
		record.AvgScore = floatPtr(sample.avgScore)
		record.TotalClicks = floatPtr(sample.totalClicks)
		record.NumAssessments = floatPtr(sample.assessments)
		profiles = append(profiles, diagnosticProfile{name: sample.name, record: record})
	}
	return profiles
}

func baseDiagnosticRecord() models.StudentRecord {
	return models.StudentRecord{
		CodeModule:          categoryPtr("AAA"),
		CodePresentation:    categoryPtr("2013J"),
		Gender:              categoryPtr("M"),
		Region:              categoryPtr("East Anglian Region"),
		HighestEducation:    categoryPtr("HE Qualification"),
		IMDBand:             categoryPtr("20-30%"),
		AgeBand:             categoryPtr("35-55"),
		Disability:          categoryPtr("N"),
		StudiedCredits:      floatPtr(60),
		NumPrevAttempts:     floatPtr(0),
		StdScore:            floatPtr(15),
		MinScore:            floatPtr(20),
		MaxScore:            floatPtr(85),
		AvgSubmissionDate:   floatPtr(100),
		StdSubmissionDate:   floatPtr(30),
		ScoreRange:          floatPtr(65),
		AvgClicks:           floatPtr(50),
		StdClicks:           floatPtr(20),
		MaxClicks:           floatPtr(150),
		NumInteractions:     floatPtr(10),
		FirstAccess:         floatPtr(10),
		LastAccess:          floatPtr(200),
		AccessDuration:      floatPtr(190),
		AvgRegistrationDate: floatPtr(-15),
		NumUnregistrations:  floatPtr(0),
	}
}

func floatPtr(v float64) *float64 {
	return &v
}

func categoryPtr(v string) *models.Category {
	c := models.Category(v)
	return &c
}
