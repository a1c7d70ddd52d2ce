package training

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/student-risk-api/internal/anomaly"
	"github.com/noah-isme/student-risk-api/internal/artifact"
	"github.com/noah-isme/student-risk-api/internal/models"
	"github.com/noah-isme/student-risk-api/internal/repository"
)

func num(v float64) *float64 {
	return &v
}

func TestCollectorAggregatesPerStudent(t *testing.T) {
	collector := NewCollector()
	collector.AddStudent(models.StudentInfo{CodeModule: "AAA", IDStudent: 1, Gender: "F", StudiedCredits: 60, FinalResult: models.FinalResultPass})
	collector.AddStudent(models.StudentInfo{CodeModule: "BBB", IDStudent: 2, Gender: "M", StudiedCredits: 120, NumOfPrevAttempts: 1, FinalResult: models.FinalResultWithdrawn})

	collector.AddAssessment(models.StudentAssessment{IDStudent: 1, Score: num(60), DateSubmitted: num(10)})
	collector.AddAssessment(models.StudentAssessment{IDStudent: 1, Score: num(80), DateSubmitted: num(20)})
	collector.AddAssessment(models.StudentAssessment{IDStudent: 1, DateSubmitted: num(30)})
	collector.AddInteraction(models.StudentInteraction{IDStudent: 1, Date: 3, SumClick: 5})
	collector.AddInteraction(models.StudentInteraction{IDStudent: 1, Date: 9, SumClick: 15})
	collector.AddRegistration(models.StudentRegistration{IDStudent: 1, DateRegistration: num(-10), DateUnregistration: num(40)})

	require.Equal(t, RowCounts{Students: 2, Assessments: 3, Interactions: 2, Registrations: 1}, collector.Counts())

	examples := collector.Examples()
	require.Len(t, examples, 2)

	first := examples[0].Record
	require.False(t, examples[0].AtRisk)
	require.Equal(t, "1", first.StudentID.String())
	require.Equal(t, "AAA", first.CodeModule.String())
	require.Equal(t, MissingCategory, first.IMDBand.String())
	require.Equal(t, MissingCategory, first.Region.String())

	require.Equal(t, 70.0, *first.AvgScore)
	require.InDelta(t, math.Sqrt(200), *first.StdScore, 1e-9)
	require.Equal(t, 60.0, *first.MinScore)
	require.Equal(t, 80.0, *first.MaxScore)
	require.Equal(t, 2.0, *first.NumAssessments)
	require.Equal(t, 20.0, *first.AvgSubmissionDate)
	require.InDelta(t, 10.0, *first.StdSubmissionDate, 1e-9)
	require.Equal(t, 20.0, *first.ScoreRange)

	require.Equal(t, 20.0, *first.TotalClicks)
	require.Equal(t, 10.0, *first.AvgClicks)
	require.InDelta(t, math.Sqrt(50), *first.StdClicks, 1e-9)
	require.Equal(t, 15.0, *first.MaxClicks)
	require.Equal(t, 2.0, *first.NumInteractions)
	require.Equal(t, 3.0, *first.FirstAccess)
	require.Equal(t, 9.0, *first.LastAccess)
	require.Equal(t, 6.0, *first.AccessDuration)
	require.Equal(t, -10.0, *first.AvgRegistrationDate)
	require.Equal(t, 1.0, *first.NumUnregistrations)

	// The second student has no child rows; every aggregate is imputed with the column median.
	second := examples[1].Record
	require.True(t, examples[1].AtRisk)
	require.Equal(t, 120.0, *second.StudiedCredits)
	require.Equal(t, 1.0, *second.NumPrevAttempts)
	require.Equal(t, 70.0, *second.AvgScore)
	require.Equal(t, 20.0, *second.TotalClicks)
	require.Equal(t, 1.0, *second.NumUnregistrations)
	for _, value := range second.Numerics() {
		require.NotNil(t, value)
	}
}

func TestCollectorSingleSampleStdIsZero(t *testing.T) {
	collector := NewCollector()
	collector.AddStudent(models.StudentInfo{IDStudent: 5})
	collector.AddAssessment(models.StudentAssessment{IDStudent: 5, Score: num(42), DateSubmitted: num(7)})
	collector.AddInteraction(models.StudentInteraction{IDStudent: 5, Date: 1, SumClick: 3})

	record := collector.Examples()[0].Record
	require.Equal(t, 0.0, *record.StdScore)
	require.Equal(t, 0.0, *record.StdSubmissionDate)
	require.Equal(t, 0.0, *record.StdClicks)
	require.Equal(t, 0.0, *record.ScoreRange)
}

func TestMedian(t *testing.T) {
	require.Equal(t, 0.0, median(nil))
	require.Equal(t, 3.0, median([]float64{5, 1, 3}))
	require.Equal(t, 2.5, median([]float64{4, 1, 3, 2}))
}

func TestStratifiedSplitKeepsClassShare(t *testing.T) {
	labels := make([]bool, 100)
	for i := 0; i < 30; i++ {
		labels[i*3] = true
	}

	train, test := stratifiedSplit(labels, 0.3, 42)
	require.Len(t, train, 70)
	require.Len(t, test, 30)
	require.InDelta(t, 0.3, positiveRate(labels, train), 1e-9)
	require.InDelta(t, 0.3, positiveRate(labels, test), 1e-9)

	again, _ := stratifiedSplit(labels, 0.3, 42)
	require.Equal(t, train, again)

	seen := make(map[int]bool)
	for _, idx := range append(append([]int{}, train...), test...) {
		require.False(t, seen[idx])
		seen[idx] = true
	}
	require.Len(t, seen, 100)
}

func TestF1Score(t *testing.T) {
	actual := []bool{true, true, false, false, true}
	predicted := []anomaly.Label{anomaly.Anomaly, anomaly.Normal, anomaly.Anomaly, anomaly.Normal, anomaly.Anomaly}

	// tp=2 fp=1 fn=1
	require.InDelta(t, 4.0/6.0, f1Score(actual, predicted), 1e-12)
	require.Equal(t, 0.0, f1Score([]bool{false}, []anomaly.Label{anomaly.Normal}))
}

func TestCSVSourceParsesExport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, StudentInfoFile, strings.Join([]string{
		`"code_module","code_presentation","id_student","gender","region","highest_education","imd_band","age_band","num_of_prev_attempts","studied_credits","disability","final_result"`,
		`"AAA","2013J","11391","M","East Anglian Region","HE Qualification","90-100%","55<=","0","240","N","Pass"`,
		`"AAA","2013J","28400","F","Scotland","HE Qualification","?","35-55","0","60","N","Fail"`,
	}, "\n"))
	writeFile(t, dir, StudentAssessmentFile, "id_assessment,id_student,date_submitted,is_banked,score\n1752,11391,18,0,78\n1753,11391,53,0,?\n1752,28400,22,1,70\n")
	writeFile(t, dir, StudentInteractionFile, "code_module,code_presentation,id_student,id_site,date,sum_click\nAAA,2013J,28400,546652,-10,4\nAAA,2013J,28400,546652,-9,1\n")
	writeFile(t, dir, StudentRegistrationFile, "code_module,code_presentation,id_student,date_registration,date_unregistration\nAAA,2013J,11391,-159,\nAAA,2013J,28400,-53,\n")

	collector := NewCollector()
	require.NoError(t, NewCSVSource(dir).Collect(context.Background(), collector))
	require.Equal(t, RowCounts{Students: 2, Assessments: 3, Interactions: 2, Registrations: 2}, collector.Counts())

	examples := collector.Examples()
	require.Len(t, examples, 2)
	require.Equal(t, "90-100%", examples[0].Record.IMDBand.String())
	require.Equal(t, MissingCategory, examples[1].Record.IMDBand.String())
	require.Equal(t, 78.0, *examples[0].Record.AvgScore)
	require.Equal(t, 1.0, *examples[0].Record.NumAssessments)
	require.Equal(t, 0.0, *examples[0].Record.NumUnregistrations)
	require.True(t, examples[1].AtRisk)
	require.Equal(t, 5.0, *examples[1].Record.TotalClicks)
	// Student 11391 never used the VLE, so clicks come from the median.
	require.Equal(t, 5.0, *examples[0].Record.TotalClicks)
}

func TestCSVSourceReportsMissingFilesAndColumns(t *testing.T) {
	dir := t.TempDir()
	err := NewCSVSource(dir).Collect(context.Background(), NewCollector())
	require.ErrorIs(t, err, os.ErrNotExist)

	writeFile(t, dir, StudentInfoFile, "id_student,gender\n1,M\n")
	err = NewCSVSource(dir).Collect(context.Background(), NewCollector())
	require.ErrorContains(t, err, "missing column code_module")
}

func TestCSVSourceRejectsInvalidNumbers(t *testing.T) {
	dir := t.TempDir()
	writeSyntheticExport(t, dir, 10, 1)
	writeFile(t, dir, StudentAssessmentFile, "id_assessment,id_student,date_submitted,is_banked,score\n1,1000,5,0,abc\n")

	err := NewCSVSource(dir).Collect(context.Background(), NewCollector())
	require.ErrorContains(t, err, "studentAssessment.csv line 2")
}

func TestDBSourceMatchesCSVSource(t *testing.T) {
	dir := t.TempDir()
	writeSyntheticExport(t, dir, 40, 3)

	fromCSV := NewCollector()
	require.NoError(t, NewCSVSource(dir).Collect(context.Background(), fromCSV))

	db, err := gorm.Open(sqlite.Open("file:training_db_source?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	repo := repository.NewTrainingDataRepository(db, 7)
	require.NoError(t, repo.Migrate(context.Background()))

	copier := &dbWriter{t: t, db: db}
	require.NoError(t, NewCSVSource(dir).Collect(context.Background(), copier))

	fromDB := NewCollector()
	require.NoError(t, NewDBSource(repo).Collect(context.Background(), fromDB))

	require.Equal(t, fromCSV.Counts(), fromDB.Counts())
	require.Equal(t, fromCSV.Examples(), fromDB.Examples())
}

func TestPipelineTrainsAndSavesBundle(t *testing.T) {
	dataDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "models")
	writeSyntheticExport(t, dataDir, 200, 11)

	pipeline := NewPipeline(NewCSVSource(dataDir), Options{
		OutputDir: outDir,
		Forest:    anomaly.Options{NumTrees: 25, MaxSamples: 64, Seed: 42},
	}, zerolog.Nop())

	report, err := pipeline.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "csv", report.Source)
	require.Equal(t, 200, report.Examples)
	require.Equal(t, 200, report.TrainRows+report.TestRows)
	require.Equal(t, 60, report.TestRows)
	require.InDelta(t, 0.3, report.AtRiskRate, 1e-9)
	require.Greater(t, report.Contamination, 0.0)
	require.LessOrEqual(t, report.Contamination, anomaly.MaxContamination)
	require.GreaterOrEqual(t, report.F1Score, 0.0)
	require.LessOrEqual(t, report.F1Score, 1.0)

	bundle, err := artifact.Load(outDir)
	require.NoError(t, err)
	require.Equal(t, 25, bundle.Forest.NumTrees)
	require.Equal(t, int64(42), bundle.Metadata.Seed)
	require.Equal(t, report.F1Score, bundle.Metadata.F1Score)
	require.InDelta(t, report.Contamination, bundle.Forest.Contamination, 1e-12)
	require.Contains(t, bundle.Encoders[models.FieldIMDBand], MissingCategory)
}

func TestPipelineIsDeterministic(t *testing.T) {
	dataDir := t.TempDir()
	writeSyntheticExport(t, dataDir, 120, 5)

	run := func() *artifact.Bundle {
		outDir := t.TempDir()
		pipeline := NewPipeline(NewCSVSource(dataDir), Options{
			OutputDir: outDir,
			Forest:    anomaly.Options{NumTrees: 10, MaxSamples: 32, Seed: 7},
		}, zerolog.Nop())
		_, err := pipeline.Run(context.Background())
		require.NoError(t, err)
		bundle, err := artifact.Load(outDir)
		require.NoError(t, err)
		return bundle
	}

	first, second := run(), run()
	require.Equal(t, first.Forest, second.Forest)
	require.Equal(t, first.Scaler, second.Scaler)
}

func TestPipelineFailsWithoutAtRiskStudents(t *testing.T) {
	source := staticSource{students: []models.StudentInfo{
		{IDStudent: 1, FinalResult: models.FinalResultPass},
		{IDStudent: 2, FinalResult: models.FinalResultDistinction},
		{IDStudent: 3, FinalResult: models.FinalResultPass},
	}}

	_, err := NewPipeline(source, Options{OutputDir: t.TempDir()}, zerolog.Nop()).Run(context.Background())
	require.ErrorIs(t, err, ErrNoPositives)

	_, err = NewPipeline(staticSource{}, Options{OutputDir: t.TempDir()}, zerolog.Nop()).Run(context.Background())
	require.ErrorIs(t, err, ErrNoData)
}

func TestPipelineHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPipeline(staticSource{}, Options{OutputDir: t.TempDir()}, zerolog.Nop()).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

type staticSource struct {
	students []models.StudentInfo
}

func (s staticSource) Name() string { return "static" }

func (s staticSource) Collect(_ context.Context, sink Sink) error {
	for _, student := range s.students {
		sink.AddStudent(student)
	}
	return nil
}

// dbWriter copies rows delivered by a source into the database.
type dbWriter struct {
	t  *testing.T
	db *gorm.DB
}

func (w *dbWriter) AddStudent(row models.StudentInfo) {
	require.NoError(w.t, w.db.Create(&row).Error)
}

func (w *dbWriter) AddAssessment(row models.StudentAssessment) {
	require.NoError(w.t, w.db.Create(&row).Error)
}

func (w *dbWriter) AddInteraction(row models.StudentInteraction) {
	require.NoError(w.t, w.db.Create(&row).Error)
}

func (w *dbWriter) AddRegistration(row models.StudentRegistration) {
	require.NoError(w.t, w.db.Create(&row).Error)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

// writeSyntheticExport writes a course export where 30% of students fail with
// visibly weaker scores and engagement.
func writeSyntheticExport(t *testing.T, dir string, students int, seed int64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))

	modules := []string{"AAA", "BBB", "CCC"}
	regions := []string{"Scotland", "Wales", "London Region"}
	bands := []string{"0-10%", "20-30%", "90-100%", ""}

	var info, assessments, interactions, registrations strings.Builder
	info.WriteString("code_module,code_presentation,id_student,gender,region,highest_education,imd_band,age_band,num_of_prev_attempts,studied_credits,disability,final_result\n")
	assessments.WriteString("id_assessment,id_student,date_submitted,is_banked,score\n")
	interactions.WriteString("code_module,code_presentation,id_student,id_site,date,sum_click\n")
	registrations.WriteString("code_module,code_presentation,id_student,date_registration,date_unregistration\n")

	atRisk := int(math.Round(float64(students) * 0.3))
	for i := 0; i < students; i++ {
		id := 1000 + i
		failing := i < atRisk
		result, baseScore, baseClicks := "Pass", 75.0, 20.0
		if failing {
			result, baseScore, baseClicks = "Withdrawn", 35.0, 3.0
		}
		module := modules[rng.Intn(len(modules))]

		fmt.Fprintf(&info, "%s,2013J,%d,%s,%s,A Level or Equivalent,%s,0-35,%d,%d,N,%s\n",
			module, id, []string{"M", "F"}[rng.Intn(2)], regions[rng.Intn(len(regions))],
			bands[rng.Intn(len(bands))], rng.Intn(2), 60*(1+rng.Intn(2)), result)

		for a := 0; a < 2+rng.Intn(4); a++ {
			fmt.Fprintf(&assessments, "%d,%d,%d,0,%.0f\n", a, id, 20*a+rng.Intn(10), baseScore+rng.Float64()*15)
		}
		for d := 0; d < 3+rng.Intn(6); d++ {
			fmt.Fprintf(&interactions, "%s,2013J,%d,%d,%d,%.0f\n", module, id, rng.Intn(50), d*7, baseClicks+rng.Float64()*10)
		}
		unregistered := ""
		if failing && rng.Intn(2) == 0 {
			unregistered = fmt.Sprintf("%d", rng.Intn(100))
		}
		fmt.Fprintf(&registrations, "%s,2013J,%d,%d,%s\n", module, id, -rng.Intn(100), unregistered)
	}

	writeFile(t, dir, StudentInfoFile, info.String())
	writeFile(t, dir, StudentAssessmentFile, assessments.String())
	writeFile(t, dir, StudentInteractionFile, interactions.String())
	writeFile(t, dir, StudentRegistrationFile, registrations.String())
}
