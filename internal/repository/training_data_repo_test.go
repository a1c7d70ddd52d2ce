package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/student-risk-api/internal/models"
)

func setupTrainingTestDB(t *testing.T) (*gorm.DB, TrainingDataRepository) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	repo := NewTrainingDataRepository(db, 2)
	require.NoError(t, repo.Migrate(context.Background()))
	return db, repo
}

func TestTrainingDataRepositoryListStudents(t *testing.T) {
	db, repo := setupTrainingTestDB(t)

	band := "20-30%"
	require.NoError(t, db.Create(&[]models.StudentInfo{
		{CodeModule: "AAA", CodePresentation: "2013J", IDStudent: 11, IMDBand: &band, FinalResult: models.FinalResultPass},
		{CodeModule: "BBB", CodePresentation: "2014B", IDStudent: 12, FinalResult: models.FinalResultWithdrawn},
	}).Error)

	students, err := repo.ListStudents(context.Background())
	require.NoError(t, err)
	require.Len(t, students, 2)
	require.Equal(t, int64(11), students[0].IDStudent)
	require.NotNil(t, students[0].IMDBand)
	require.Equal(t, "20-30%", *students[0].IMDBand)
	require.Nil(t, students[1].IMDBand)
	require.True(t, students[1].IsAtRiskOutcome())
}

func TestTrainingDataRepositoryStreamsInBatches(t *testing.T) {
	db, repo := setupTrainingTestDB(t)

	interactions := make([]models.StudentInteraction, 5)
	for i := range interactions {
		interactions[i] = models.StudentInteraction{IDStudent: 7, Date: float64(i), SumClick: float64(i + 1)}
	}
	require.NoError(t, db.Create(&interactions).Error)

	var batches []int
	total := 0.0
	err := repo.EachInteractionBatch(context.Background(), func(batch []models.StudentInteraction) error {
		batches = append(batches, len(batch))
		for _, row := range batch {
			total += row.SumClick
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{2, 2, 1}, batches)
	require.Equal(t, 15.0, total)
}

func TestTrainingDataRepositoryKeepsMissingValues(t *testing.T) {
	db, repo := setupTrainingTestDB(t)

	score := 71.0
	registered := -20.0
	require.NoError(t, db.Create(&[]models.StudentAssessment{
		{IDAssessment: 1, IDStudent: 3, Score: &score},
		{IDAssessment: 2, IDStudent: 3},
	}).Error)
	require.NoError(t, db.Create(&models.StudentRegistration{IDStudent: 3, DateRegistration: &registered}).Error)

	var scores []*float64
	require.NoError(t, repo.EachAssessmentBatch(context.Background(), func(batch []models.StudentAssessment) error {
		for _, row := range batch {
			scores = append(scores, row.Score)
		}
		return nil
	}))
	require.Len(t, scores, 2)
	require.Equal(t, 71.0, *scores[0])
	require.Nil(t, scores[1])

	var unregistered []*float64
	require.NoError(t, repo.EachRegistrationBatch(context.Background(), func(batch []models.StudentRegistration) error {
		for _, row := range batch {
			unregistered = append(unregistered, row.DateUnregistration)
		}
		return nil
	}))
	require.Equal(t, []*float64{nil}, unregistered)
}
