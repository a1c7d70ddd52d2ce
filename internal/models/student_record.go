package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Categorical field names in feature order.
const (
	FieldCodeModule       = "code_module"
	FieldCodePresentation = "code_presentation"
	FieldGender           = "gender"
	FieldRegion           = "region"
	FieldHighestEducation = "highest_education"
	FieldIMDBand          = "imd_band"
	FieldAgeBand          = "age_band"
	FieldDisability       = "disability"
)

// Numeric field names in feature order.
const (
	FieldStudiedCredits      = "studied_credits"
	FieldNumPrevAttempts     = "num_of_prev_attempts"
	FieldAvgScore            = "avg_score"
	FieldStdScore            = "std_score"
	FieldMinScore            = "min_score"
	FieldMaxScore            = "max_score"
	FieldNumAssessments      = "num_assessments"
	FieldAvgSubmissionDate   = "avg_submission_date"
	FieldStdSubmissionDate   = "std_submission_date"
	FieldScoreRange          = "score_range"
	FieldTotalClicks         = "total_clicks"
	FieldAvgClicks           = "avg_clicks"
	FieldStdClicks           = "std_clicks"
	FieldMaxClicks           = "max_clicks"
	FieldNumInteractions     = "num_interactions"
	FieldFirstAccess         = "first_access"
	FieldLastAccess          = "last_access"
	FieldAccessDuration      = "access_duration"
	FieldAvgRegistrationDate = "avg_registration_date"
	FieldNumUnregistrations  = "num_unregistrations"
)

// FieldStudentID identifies a batch row. It never enters the feature vector.
const FieldStudentID = "student_id"

// CategoricalFields lists the categorical attributes in the order used by the feature vector.
var CategoricalFields = []string{
	FieldCodeModule,
	FieldCodePresentation,
	FieldGender,
	FieldRegion,
	FieldHighestEducation,
	FieldIMDBand,
	FieldAgeBand,
	FieldDisability,
}

// NumericFields lists the numeric attributes in the order used by the feature vector.
var NumericFields = []string{
	FieldStudiedCredits,
	FieldNumPrevAttempts,
	FieldAvgScore,
	FieldStdScore,
	FieldMinScore,
	FieldMaxScore,
	FieldNumAssessments,
	FieldAvgSubmissionDate,
	FieldStdSubmissionDate,
	FieldScoreRange,
	FieldTotalClicks,
	FieldAvgClicks,
	FieldStdClicks,
	FieldMaxClicks,
	FieldNumInteractions,
	FieldFirstAccess,
	FieldLastAccess,
	FieldAccessDuration,
	FieldAvgRegistrationDate,
	FieldNumUnregistrations,
}

// Category is a categorical value. JSON strings, numbers and booleans are all
// accepted and kept in their textual form.
type Category string

// UnmarshalJSON coerces scalar JSON values into their string form.
func (c *Category) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty category value")
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*c = Category(s)
	case '{', '[':
		return fmt.Errorf("category value must be a scalar")
	default:
		*c = Category(string(trimmed))
	}

	return nil
}

// String returns the raw category text.
func (c Category) String() string {
	return string(c)
}

// StudentRecord is one student's feature snapshot. Every attribute is optional;
// a nil pointer means the client did not send the field.
type StudentRecord struct {
	StudentID *Category `json:"student_id,omitempty"`

	CodeModule       *Category `json:"code_module,omitempty"`
	CodePresentation *Category `json:"code_presentation,omitempty"`
	Gender           *Category `json:"gender,omitempty"`
	Region           *Category `json:"region,omitempty"`
	HighestEducation *Category `json:"highest_education,omitempty"`
	IMDBand          *Category `json:"imd_band,omitempty"`
	AgeBand          *Category `json:"age_band,omitempty"`
	Disability       *Category `json:"disability,omitempty"`

	StudiedCredits      *float64 `json:"studied_credits,omitempty"`
	NumPrevAttempts     *float64 `json:"num_of_prev_attempts,omitempty"`
	AvgScore            *float64 `json:"avg_score,omitempty"`
	StdScore            *float64 `json:"std_score,omitempty"`
	MinScore            *float64 `json:"min_score,omitempty"`
	MaxScore            *float64 `json:"max_score,omitempty"`
	NumAssessments      *float64 `json:"num_assessments,omitempty"`
	AvgSubmissionDate   *float64 `json:"avg_submission_date,omitempty"`
	StdSubmissionDate   *float64 `json:"std_submission_date,omitempty"`
	ScoreRange          *float64 `json:"score_range,omitempty"`
	TotalClicks         *float64 `json:"total_clicks,omitempty"`
	AvgClicks           *float64 `json:"avg_clicks,omitempty"`
	StdClicks           *float64 `json:"std_clicks,omitempty"`
	MaxClicks           *float64 `json:"max_clicks,omitempty"`
	NumInteractions     *float64 `json:"num_interactions,omitempty"`
	FirstAccess         *float64 `json:"first_access,omitempty"`
	LastAccess          *float64 `json:"last_access,omitempty"`
	AccessDuration      *float64 `json:"access_duration,omitempty"`
	AvgRegistrationDate *float64 `json:"avg_registration_date,omitempty"`
	NumUnregistrations  *float64 `json:"num_unregistrations,omitempty"`
}

// Categoricals returns the categorical attributes aligned with CategoricalFields.
func (r StudentRecord) Categoricals() []*Category {
	return []*Category{
		r.CodeModule,
		r.CodePresentation,
		r.Gender,
		r.Region,
		r.HighestEducation,
		r.IMDBand,
		r.AgeBand,
		r.Disability,
	}
}

// Numerics returns the numeric attributes aligned with NumericFields.
func (r StudentRecord) Numerics() []*float64 {
	return []*float64{
		r.StudiedCredits,
		r.NumPrevAttempts,
		r.AvgScore,
		r.StdScore,
		r.MinScore,
		r.MaxScore,
		r.NumAssessments,
		r.AvgSubmissionDate,
		r.StdSubmissionDate,
		r.ScoreRange,
		r.TotalClicks,
		r.AvgClicks,
		r.StdClicks,
		r.MaxClicks,
		r.NumInteractions,
		r.FirstAccess,
		r.LastAccess,
		r.AccessDuration,
		r.AvgRegistrationDate,
		r.NumUnregistrations,
	}
}

// IsEmpty reports whether the record carries no attribute at all.
func (r StudentRecord) IsEmpty() bool {
	if r.StudentID != nil {
		return false
	}
	for _, value := range r.Categoricals() {
		if value != nil {
			return false
		}
	}
	for _, value := range r.Numerics() {
		if value != nil {
			return false
		}
	}
	return true
}

// Set assigns a field from its textual form. Empty input leaves the field unset.
func (r *StudentRecord) Set(field, raw string) error {
	value := strings.TrimSpace(raw)
	if isMissingCell(value) {
		return nil
	}

	if target := r.categoryField(field); target != nil {
		category := Category(value)
		*target = &category
		return nil
	}

	target := r.numericField(field)
	if target == nil {
		return fmt.Errorf("unknown field %q", field)
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("field %s: invalid number %q", field, value)
	}
	*target = &parsed
	return nil
}

// isMissingCell reports the placeholders CSV exports use for absent values.
func isMissingCell(value string) bool {
	return value == "" || value == "?"
}

// IsField reports whether field names a StudentRecord attribute.
func IsField(field string) bool {
	var probe StudentRecord
	return probe.categoryField(field) != nil || probe.numericField(field) != nil
}

// SetNumeric assigns a numeric field by name.
func (r *StudentRecord) SetNumeric(field string, value float64) error {
	target := r.numericField(field)
	if target == nil {
		return fmt.Errorf("unknown numeric field %q", field)
	}
	v := value
	*target = &v
	return nil
}

func (r *StudentRecord) categoryField(field string) **Category {
	switch field {
	case FieldStudentID:
		return &r.StudentID
	case FieldCodeModule:
		return &r.CodeModule
	case FieldCodePresentation:
		return &r.CodePresentation
	case FieldGender:
		return &r.Gender
	case FieldRegion:
		return &r.Region
	case FieldHighestEducation:
		return &r.HighestEducation
	case FieldIMDBand:
		return &r.IMDBand
	case FieldAgeBand:
		return &r.AgeBand
	case FieldDisability:
		return &r.Disability
	}
	return nil
}

func (r *StudentRecord) numericField(field string) **float64 {
	switch field {
	case FieldStudiedCredits:
		return &r.StudiedCredits
	case FieldNumPrevAttempts:
		return &r.NumPrevAttempts
	case FieldAvgScore:
		return &r.AvgScore
	case FieldStdScore:
		return &r.StdScore
	case FieldMinScore:
		return &r.MinScore
	case FieldMaxScore:
		return &r.MaxScore
	case FieldNumAssessments:
		return &r.NumAssessments
	case FieldAvgSubmissionDate:
		return &r.AvgSubmissionDate
	case FieldStdSubmissionDate:
		return &r.StdSubmissionDate
	case FieldScoreRange:
		return &r.ScoreRange
	case FieldTotalClicks:
		return &r.TotalClicks
	case FieldAvgClicks:
		return &r.AvgClicks
	case FieldStdClicks:
		return &r.StdClicks
	case FieldMaxClicks:
		return &r.MaxClicks
	case FieldNumInteractions:
		return &r.NumInteractions
	case FieldFirstAccess:
		return &r.FirstAccess
	case FieldLastAccess:
		return &r.LastAccess
	case FieldAccessDuration:
		return &r.AccessDuration
	case FieldAvgRegistrationDate:
		return &r.AvgRegistrationDate
	case FieldNumUnregistrations:
		return &r.NumUnregistrations
	}
	return nil
}
