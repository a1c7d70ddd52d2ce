// Package training builds the anomaly model bundle from the raw course tables.
package training

import (
	"sort"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/noah-isme/student-risk-api/internal/models"
)

// MissingCategory is the encoded spelling of an absent categorical value.
const MissingCategory = "nan"

// Sink receives raw rows from a Source.
type Sink interface {
	AddStudent(models.StudentInfo)
	AddAssessment(models.StudentAssessment)
	AddInteraction(models.StudentInteraction)
	AddRegistration(models.StudentRegistration)
}

// Example is one labelled training row.
type Example struct {
	StudentID int64
	Record    models.StudentRecord
	AtRisk    bool
}

// RowCounts reports how many raw rows a source delivered per table.
type RowCounts struct {
	Students      int
	Assessments   int
	Interactions  int
	Registrations int
}

type assessmentStats struct {
	scores    []float64
	submitted []float64
}

type engagementStats struct {
	clicks []float64
	days   []float64
}

type registrationStats struct {
	registered   []float64
	unregistered int
}

// Collector aggregates raw rows per student and turns them into labelled examples.
type Collector struct {
	students      []models.StudentInfo
	assessments   map[int64]*assessmentStats
	engagement    map[int64]*engagementStats
	registrations map[int64]*registrationStats
	counts        RowCounts
}

// NewCollector constructs an empty collector.
func NewCollector() *Collector {
	return &Collector{
		assessments:   make(map[int64]*assessmentStats),
		engagement:    make(map[int64]*engagementStats),
		registrations: make(map[int64]*registrationStats),
	}
}

func (c *Collector) AddStudent(student models.StudentInfo) {
	c.students = append(c.students, student)
	c.counts.Students++
}

func (c *Collector) AddAssessment(row models.StudentAssessment) {
	stats, ok := c.assessments[row.IDStudent]
	if !ok {
		stats = &assessmentStats{}
		c.assessments[row.IDStudent] = stats
	}
	if row.Score != nil {
		stats.scores = append(stats.scores, *row.Score)
	}
	if row.DateSubmitted != nil {
		stats.submitted = append(stats.submitted, *row.DateSubmitted)
	}
	c.counts.Assessments++
}

func (c *Collector) AddInteraction(row models.StudentInteraction) {
	stats, ok := c.engagement[row.IDStudent]
	if !ok {
		stats = &engagementStats{}
		c.engagement[row.IDStudent] = stats
	}
	stats.clicks = append(stats.clicks, row.SumClick)
	stats.days = append(stats.days, row.Date)
	c.counts.Interactions++
}

func (c *Collector) AddRegistration(row models.StudentRegistration) {
	stats, ok := c.registrations[row.IDStudent]
	if !ok {
		stats = &registrationStats{}
		c.registrations[row.IDStudent] = stats
	}
	if row.DateRegistration != nil {
		stats.registered = append(stats.registered, *row.DateRegistration)
	}
	if row.DateUnregistration != nil {
		stats.unregistered++
	}
	c.counts.Registrations++
}

// Counts returns the number of raw rows received so far.
func (c *Collector) Counts() RowCounts {
	return c.counts
}

// Examples joins the per-student aggregates onto every student row. Numeric
// values still missing after the join are replaced by the column median.
func (c *Collector) Examples() []Example {
	columns := make([][]*float64, len(c.students))
	for i, student := range c.students {
		columns[i] = c.numericRow(student)
	}

	medians := make([]float64, len(models.NumericFields))
	for j := range medians {
		observed := make([]float64, 0, len(columns))
		for _, row := range columns {
			if row[j] != nil {
				observed = append(observed, *row[j])
			}
		}
		medians[j] = median(observed)
	}

	examples := make([]Example, len(c.students))
	for i, student := range c.students {
		record := models.StudentRecord{}
		id := models.Category(strconv.FormatInt(student.IDStudent, 10))
		record.StudentID = &id

		categoricals := []string{
			student.CodeModule,
			student.CodePresentation,
			student.Gender,
			student.Region,
			student.HighestEducation,
			stringValue(student.IMDBand),
			student.AgeBand,
			student.Disability,
		}
		for j, field := range models.CategoricalFields {
			_ = record.Set(field, categoryOrMissing(categoricals[j]))
		}

		for j, field := range models.NumericFields {
			value := medians[j]
			if columns[i][j] != nil {
				value = *columns[i][j]
			}
			_ = record.SetNumeric(field, value)
		}

		examples[i] = Example{
			StudentID: student.IDStudent,
			Record:    record,
			AtRisk:    student.IsAtRiskOutcome(),
		}
	}
	return examples
}

// numericRow returns the values of models.NumericFields for student; nil marks a missing value.
func (c *Collector) numericRow(student models.StudentInfo) []*float64 {
	row := make([]*float64, 0, len(models.NumericFields))
	row = append(row, some(student.StudiedCredits), some(student.NumOfPrevAttempts))

	var avgScore, stdScore, minScore, maxScore, numAssessments, avgSubmitted, stdSubmitted, scoreRange *float64
	if stats, ok := c.assessments[student.IDStudent]; ok {
		numAssessments = some(float64(len(stats.scores)))
		stdScore = some(sampleStdDev(stats.scores))
		stdSubmitted = some(sampleStdDev(stats.submitted))
		if len(stats.scores) > 0 {
			lo, hi := floats.Min(stats.scores), floats.Max(stats.scores)
			avgScore = some(stat.Mean(stats.scores, nil))
			minScore = some(lo)
			maxScore = some(hi)
			scoreRange = some(hi - lo)
		}
		if len(stats.submitted) > 0 {
			avgSubmitted = some(stat.Mean(stats.submitted, nil))
		}
	}
	row = append(row, avgScore, stdScore, minScore, maxScore, numAssessments, avgSubmitted, stdSubmitted, scoreRange)

	var totalClicks, avgClicks, stdClicks, maxClicks, interactions, firstAccess, lastAccess, duration *float64
	if stats, ok := c.engagement[student.IDStudent]; ok && len(stats.clicks) > 0 {
		first, last := floats.Min(stats.days), floats.Max(stats.days)
		totalClicks = some(floats.Sum(stats.clicks))
		avgClicks = some(stat.Mean(stats.clicks, nil))
		stdClicks = some(sampleStdDev(stats.clicks))
		maxClicks = some(floats.Max(stats.clicks))
		interactions = some(float64(len(stats.days)))
		firstAccess = some(first)
		lastAccess = some(last)
		duration = some(last - first)
	}
	row = append(row, totalClicks, avgClicks, stdClicks, maxClicks, interactions, firstAccess, lastAccess, duration)

	var avgRegistration, unregistrations *float64
	if stats, ok := c.registrations[student.IDStudent]; ok {
		unregistrations = some(float64(stats.unregistered))
		if len(stats.registered) > 0 {
			avgRegistration = some(stat.Mean(stats.registered, nil))
		}
	}
	return append(row, avgRegistration, unregistrations)
}

// sampleStdDev is the n-1 standard deviation; fewer than two samples yield 0.
func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.StdDev(values, nil)
}

// median averages the two middle values of an even-length sample. An empty sample yields 0.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func some(v float64) *float64 {
	return &v
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func categoryOrMissing(value string) string {
	if value == "" {
		return MissingCategory
	}
	return value
}
