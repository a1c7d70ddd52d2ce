package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/student-risk-api/internal/dto"
	"github.com/noah-isme/student-risk-api/internal/models"
	"github.com/noah-isme/student-risk-api/internal/service"
	"github.com/noah-isme/student-risk-api/internal/utils"
)

// PredictionHandler exposes student risk scoring endpoints.
type PredictionHandler struct {
	service service.PredictionService
	logger  zerolog.Logger
}

// NewPredictionHandler constructs a prediction handler.
func NewPredictionHandler(service service.PredictionService, logger zerolog.Logger) *PredictionHandler {
	return &PredictionHandler{
		service: service,
		logger:  logger.With().Str("component", "prediction_handler").Logger(),
	}
}

// Register wires versioned prediction routes.
func (h *PredictionHandler) Register(router fiber.Router) {
	router.Get("/model", h.modelInfo)
	router.Get("/diagnostics", h.diagnose)
	router.Post("/predictions", h.predict)
	router.Post("/predictions/batch", h.predictBatch)
	router.Post("/predictions/batch/csv", h.predictCSV)
}

// RegisterLegacy wires the unversioned paths. /predict and /predict_batch answer
// with the unwrapped camelCase bodies and {"error": ...} failures the dashboard reads.
func (h *PredictionHandler) RegisterLegacy(router fiber.Router) {
	router.Get("/info", h.legacyModelInfo)
	router.Get("/diagnose", h.legacyDiagnose)
	router.Post("/predict", h.legacyPredict)
	router.Post("/predict_batch", h.legacyPredictBatch)
}

func (h *PredictionHandler) predict(c *fiber.Ctx) error {
	result, err := h.scoreOne(c)
	if err != nil {
		return h.handleError(c, err, "prediction failed")
	}
	return utils.SendSuccess(c, "prediction completed", result)
}

func (h *PredictionHandler) predictBatch(c *fiber.Ctx) error {
	result, err := h.scoreBatch(c)
	if err != nil {
		return h.handleError(c, err, "batch prediction failed")
	}
	return utils.OK(c, result, "batch prediction completed", batchMeta(result))
}

func (h *PredictionHandler) legacyPredict(c *fiber.Ctx) error {
	result, err := h.scoreOne(c)
	if err != nil {
		return h.handleLegacyError(c, err, "prediction failed")
	}
	return c.JSON(dto.NewLegacyPrediction(result))
}

func (h *PredictionHandler) legacyPredictBatch(c *fiber.Ctx) error {
	result, err := h.scoreBatch(c)
	if err != nil {
		return h.handleLegacyError(c, err, "batch prediction failed")
	}
	return c.JSON(dto.NewLegacyBatchResponse(result))
}

func (h *PredictionHandler) legacyModelInfo(c *fiber.Ctx) error {
	return c.JSON(h.service.ModelInfo())
}

func (h *PredictionHandler) legacyDiagnose(c *fiber.Ctx) error {
	result, err := h.service.Diagnose(c.UserContext())
	if err != nil {
		return h.handleLegacyError(c, err, "diagnosis failed")
	}
	return c.JSON(result)
}

func (h *PredictionHandler) scoreOne(c *fiber.Ctx) (dto.PredictionResponse, error) {
	if len(c.Body()) == 0 {
		return dto.PredictionResponse{}, service.ErrMissingInput
	}

	var record models.StudentRecord
	if err := c.BodyParser(&record); err != nil {
		return dto.PredictionResponse{}, &bodyError{err: err}
	}

	return h.service.Predict(c.UserContext(), record)
}

func (h *PredictionHandler) scoreBatch(c *fiber.Ctx) (dto.BatchPredictionResponse, error) {
	if len(c.Body()) == 0 {
		return dto.BatchPredictionResponse{}, service.ErrMissingInput
	}

	var req dto.BatchPredictionRequest
	if err := c.BodyParser(&req); err != nil {
		return dto.BatchPredictionResponse{}, &bodyError{err: err}
	}

	return h.service.PredictBatch(c.UserContext(), req)
}

func (h *PredictionHandler) predictCSV(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}

	result, err := h.service.PredictCSV(c.UserContext(), file)
	if err != nil {
		return h.handleError(c, err, "batch prediction failed")
	}

	return utils.OK(c, result, "batch prediction completed", batchMeta(result))
}

func (h *PredictionHandler) modelInfo(c *fiber.Ctx) error {
	return utils.SendSuccess(c, "model info retrieved", h.service.ModelInfo())
}

func (h *PredictionHandler) diagnose(c *fiber.Ctx) error {
	result, err := h.service.Diagnose(c.UserContext())
	if err != nil {
		return h.handleError(c, err, "diagnosis failed")
	}

	return utils.SendSuccess(c, "diagnosis completed", result)
}

// bodyError wraps a request body the decoder rejected.
type bodyError struct {
	err error
}

func (e *bodyError) Error() string {
	return "invalid request body: " + e.err.Error()
}

func (e *bodyError) Unwrap() error {
	return e.err
}

func (h *PredictionHandler) handleError(c *fiber.Ctx, err error, fallback string) error {
	status, message, details := h.resolveError(c, err, fallback)
	if details == nil {
		return utils.SendError(c, status, message)
	}
	return utils.Fail(c, status, message, details)
}

func (h *PredictionHandler) handleLegacyError(c *fiber.Ctx, err error, fallback string) error {
	status, message, _ := h.resolveError(c, err, fallback)
	return c.Status(status).JSON(dto.LegacyError{Error: message})
}

func (h *PredictionHandler) resolveError(c *fiber.Ctx, err error, fallback string) (int, string, fiber.Map) {
	var (
		preprocessErr *service.PreprocessingError
		decodeErr     *bodyError
	)

	switch {
	case errors.Is(err, service.ErrModelUnavailable):
		return fiber.StatusServiceUnavailable, err.Error(), nil
	case errors.Is(err, service.ErrMissingInput), errors.Is(err, service.ErrUnsupportedFile):
		return fiber.StatusBadRequest, err.Error(), nil
	case errors.Is(err, service.ErrFileTooLarge):
		return fiber.StatusRequestEntityTooLarge, err.Error(), nil
	case errors.As(err, &decodeErr):
		return fiber.StatusBadRequest, decodeErr.Error(), fiber.Map{"cause": decodeErr.err.Error()}
	case errors.As(err, &preprocessErr):
		details := fiber.Map{"row": preprocessErr.Row}
		if preprocessErr.StudentID != "" {
			details["student_id"] = preprocessErr.StudentID
		}
		return fiber.StatusBadRequest, err.Error(), details
	case isValidationError(err):
		return fiber.StatusBadRequest, "invalid batch: " + err.Error(), nil
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg(fallback)
		return fiber.StatusInternalServerError, fallback, nil
	}
}

func batchMeta(result dto.BatchPredictionResponse) fiber.Map {
	return fiber.Map{
		"batch_id": result.BatchID,
		"scored":   len(result.Predictions),
		"failed":   len(result.Failures),
	}
}
