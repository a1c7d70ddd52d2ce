package training

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/noah-isme/student-risk-api/internal/models"
	"github.com/noah-isme/student-risk-api/internal/repository"
)

// File names of the raw course export.
const (
	StudentInfoFile         = "studentInfo.csv"
	StudentAssessmentFile   = "studentAssessment.csv"
	StudentInteractionFile  = "studentVle.csv"
	StudentRegistrationFile = "studentRegistration.csv"
)

const ctxCheckInterval = 10000

// Source delivers the raw course tables to a Sink.
type Source interface {
	Name() string
	Collect(ctx context.Context, sink Sink) error
}

// CSVSource reads the course export from a directory of CSV files.
type CSVSource struct {
	Dir string
}

// NewCSVSource constructs a source reading from dir.
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{Dir: dir}
}

func (s *CSVSource) Name() string { return "csv" }

func (s *CSVSource) Collect(ctx context.Context, sink Sink) error {
	steps := []struct {
		file     string
		required []string
		apply    func(csvRow) error
	}{
		{
			file:     StudentInfoFile,
			required: []string{"code_module", "code_presentation", "id_student", "gender", "region", "highest_education", "imd_band", "age_band", "num_of_prev_attempts", "studied_credits", "disability", "final_result"},
			apply: func(row csvRow) error {
				student, err := parseStudentInfo(row)
				if err == nil {
					sink.AddStudent(student)
				}
				return err
			},
		},
		{
			file:     StudentAssessmentFile,
			required: []string{"id_student", "score"},
			apply: func(row csvRow) error {
				assessment, err := parseStudentAssessment(row)
				if err == nil {
					sink.AddAssessment(assessment)
				}
				return err
			},
		},
		{
			file:     StudentInteractionFile,
			required: []string{"id_student", "date", "sum_click"},
			apply: func(row csvRow) error {
				interaction, err := parseStudentInteraction(row)
				if err == nil {
					sink.AddInteraction(interaction)
				}
				return err
			},
		},
		{
			file:     StudentRegistrationFile,
			required: []string{"id_student", "date_registration", "date_unregistration"},
			apply: func(row csvRow) error {
				registration, err := parseStudentRegistration(row)
				if err == nil {
					sink.AddRegistration(registration)
				}
				return err
			},
		},
	}

	for _, step := range steps {
		if err := readCSV(ctx, filepath.Join(s.Dir, step.file), step.required, step.apply); err != nil {
			return err
		}
	}
	return nil
}

// DBSource reads the course tables through the training data repository.
type DBSource struct {
	repo repository.TrainingDataRepository
}

// NewDBSource constructs a database-backed source.
func NewDBSource(repo repository.TrainingDataRepository) *DBSource {
	return &DBSource{repo: repo}
}

func (s *DBSource) Name() string { return "db" }

func (s *DBSource) Collect(ctx context.Context, sink Sink) error {
	students, err := s.repo.ListStudents(ctx)
	if err != nil {
		return fmt.Errorf("list students: %w", err)
	}
	for _, student := range students {
		sink.AddStudent(student)
	}

	err = s.repo.EachAssessmentBatch(ctx, func(batch []models.StudentAssessment) error {
		for _, row := range batch {
			sink.AddAssessment(row)
		}
		return ctx.Err()
	})
	if err != nil {
		return fmt.Errorf("read assessments: %w", err)
	}

	err = s.repo.EachInteractionBatch(ctx, func(batch []models.StudentInteraction) error {
		for _, row := range batch {
			sink.AddInteraction(row)
		}
		return ctx.Err()
	})
	if err != nil {
		return fmt.Errorf("read interactions: %w", err)
	}

	err = s.repo.EachRegistrationBatch(ctx, func(batch []models.StudentRegistration) error {
		for _, row := range batch {
			sink.AddRegistration(row)
		}
		return ctx.Err()
	})
	if err != nil {
		return fmt.Errorf("read registrations: %w", err)
	}
	return nil
}

type csvRow struct {
	file    string
	line    int
	columns map[string]int
	values  []string
}

func (r csvRow) text(column string) string {
	idx, ok := r.columns[column]
	if !ok || idx >= len(r.values) {
		return ""
	}
	return strings.TrimSpace(r.values[idx])
}

// optional parses a numeric cell; empty and "?" cells are missing.
func (r csvRow) optional(column string) (*float64, error) {
	raw := r.text(column)
	if raw == "" || raw == "?" {
		return nil, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, r.errorf("column %s: invalid number %q", column, raw)
	}
	return &value, nil
}

func (r csvRow) number(column string) (float64, error) {
	value, err := r.optional(column)
	if err != nil {
		return 0, err
	}
	if value == nil {
		return 0, r.errorf("column %s is required", column)
	}
	return *value, nil
}

func (r csvRow) id(column string) (int64, error) {
	raw := r.text(column)
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, r.errorf("column %s: invalid id %q", column, raw)
	}
	return value, nil
}

func (r csvRow) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%s line %d: %s", r.file, r.line, fmt.Sprintf(format, args...))
}

func readCSV(ctx context.Context, path string, required []string, apply func(csvRow) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read header of %s: %w", filepath.Base(path), err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, name := range required {
		if _, ok := columns[name]; !ok {
			return fmt.Errorf("%s: missing column %s", filepath.Base(path), name)
		}
	}

	line := 1
	for {
		values, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		if line%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		row := csvRow{file: filepath.Base(path), line: line, columns: columns, values: values}
		if err := apply(row); err != nil {
			return err
		}
	}
}

func parseStudentInfo(row csvRow) (models.StudentInfo, error) {
	id, err := row.id("id_student")
	if err != nil {
		return models.StudentInfo{}, err
	}
	prevAttempts, err := row.number("num_of_prev_attempts")
	if err != nil {
		return models.StudentInfo{}, err
	}
	credits, err := row.number("studied_credits")
	if err != nil {
		return models.StudentInfo{}, err
	}

	student := models.StudentInfo{
		CodeModule:        row.text("code_module"),
		CodePresentation:  row.text("code_presentation"),
		IDStudent:         id,
		Gender:            row.text("gender"),
		Region:            row.text("region"),
		HighestEducation:  row.text("highest_education"),
		AgeBand:           row.text("age_band"),
		NumOfPrevAttempts: prevAttempts,
		StudiedCredits:    credits,
		Disability:        row.text("disability"),
		FinalResult:       row.text("final_result"),
	}
	if band := row.text("imd_band"); band != "" && band != "?" {
		student.IMDBand = &band
	}
	return student, nil
}

func parseStudentAssessment(row csvRow) (models.StudentAssessment, error) {
	id, err := row.id("id_student")
	if err != nil {
		return models.StudentAssessment{}, err
	}
	score, err := row.optional("score")
	if err != nil {
		return models.StudentAssessment{}, err
	}
	submitted, err := row.optional("date_submitted")
	if err != nil {
		return models.StudentAssessment{}, err
	}
	assessmentID, _ := strconv.ParseInt(row.text("id_assessment"), 10, 64)

	return models.StudentAssessment{
		IDAssessment:  assessmentID,
		IDStudent:     id,
		DateSubmitted: submitted,
		IsBanked:      row.text("is_banked") == "1",
		Score:         score,
	}, nil
}

func parseStudentInteraction(row csvRow) (models.StudentInteraction, error) {
	id, err := row.id("id_student")
	if err != nil {
		return models.StudentInteraction{}, err
	}
	date, err := row.number("date")
	if err != nil {
		return models.StudentInteraction{}, err
	}
	clicks, err := row.number("sum_click")
	if err != nil {
		return models.StudentInteraction{}, err
	}
	site, _ := strconv.ParseInt(row.text("id_site"), 10, 64)

	return models.StudentInteraction{
		CodeModule:       row.text("code_module"),
		CodePresentation: row.text("code_presentation"),
		IDStudent:        id,
		IDSite:           site,
		Date:             date,
		SumClick:         clicks,
	}, nil
}

func parseStudentRegistration(row csvRow) (models.StudentRegistration, error) {
	id, err := row.id("id_student")
	if err != nil {
		return models.StudentRegistration{}, err
	}
	registered, err := row.optional("date_registration")
	if err != nil {
		return models.StudentRegistration{}, err
	}
	unregistered, err := row.optional("date_unregistration")
	if err != nil {
		return models.StudentRegistration{}, err
	}

	return models.StudentRegistration{
		CodeModule:         row.text("code_module"),
		CodePresentation:   row.text("code_presentation"),
		IDStudent:          id,
		DateRegistration:   registered,
		DateUnregistration: unregistered,
	}, nil
}
