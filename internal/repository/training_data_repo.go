package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/student-risk-api/internal/models"
)

const defaultTrainingBatchSize = 5000

// TrainingDataRepository reads the raw course tables the model is trained on.
// Child tables are streamed in batches since the clickstream can be very large.
type TrainingDataRepository interface {
	Migrate(ctx context.Context) error
	ListStudents(ctx context.Context) ([]models.StudentInfo, error)
	EachAssessmentBatch(ctx context.Context, fn func([]models.StudentAssessment) error) error
	EachInteractionBatch(ctx context.Context, fn func([]models.StudentInteraction) error) error
	EachRegistrationBatch(ctx context.Context, fn func([]models.StudentRegistration) error) error
}

type trainingDataRepository struct {
	db        *gorm.DB
	batchSize int
}

// NewTrainingDataRepository constructs a repository backed by GORM. A
// non-positive batchSize selects the default.
func NewTrainingDataRepository(db *gorm.DB, batchSize int) TrainingDataRepository {
	if batchSize <= 0 {
		batchSize = defaultTrainingBatchSize
	}
	return &trainingDataRepository{db: db, batchSize: batchSize}
}

func (r *trainingDataRepository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(
		&models.StudentInfo{},
		&models.StudentAssessment{},
		&models.StudentInteraction{},
		&models.StudentRegistration{},
	)
}

func (r *trainingDataRepository) ListStudents(ctx context.Context) ([]models.StudentInfo, error) {
	var students []models.StudentInfo
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&students).Error; err != nil {
		return nil, err
	}
	return students, nil
}

func (r *trainingDataRepository) EachAssessmentBatch(ctx context.Context, fn func([]models.StudentAssessment) error) error {
	var batch []models.StudentAssessment
	return r.db.WithContext(ctx).
		Order("id ASC").
		FindInBatches(&batch, r.batchSize, func(_ *gorm.DB, _ int) error {
			return fn(batch)
		}).Error
}

func (r *trainingDataRepository) EachInteractionBatch(ctx context.Context, fn func([]models.StudentInteraction) error) error {
	var batch []models.StudentInteraction
	return r.db.WithContext(ctx).
		Order("id ASC").
		FindInBatches(&batch, r.batchSize, func(_ *gorm.DB, _ int) error {
			return fn(batch)
		}).Error
}

func (r *trainingDataRepository) EachRegistrationBatch(ctx context.Context, fn func([]models.StudentRegistration) error) error {
	var batch []models.StudentRegistration
	return r.db.WithContext(ctx).
		Order("id ASC").
		FindInBatches(&batch, r.batchSize, func(_ *gorm.DB, _ int) error {
			return fn(batch)
		}).Error
}
