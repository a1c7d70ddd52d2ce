package features

import "github.com/noah-isme/student-risk-api/internal/models"

// Defaults applied by the rule layer when a metric is absent from the record.
// The feature vector itself always defaults to 0.
const (
	DefaultAvgScore          = 50.0
	DefaultTotalClicks       = 500.0
	DefaultNumAssessments    = 5.0
	DefaultNumInteractions   = 10.0
	DefaultNumPrevAttempts   = 0.0
	DefaultAvgSubmissionDate = 0.0
	DefaultFirstAccess       = 0.0
)

// Metrics are the raw, unscaled values inspected by the risk rules.
type Metrics struct {
	AvgScore          float64
	TotalClicks       float64
	NumAssessments    float64
	NumInteractions   float64
	NumPrevAttempts   float64
	AvgSubmissionDate float64
	FirstAccess       float64
}

// ResolveMetrics reads the rule inputs from record, substituting defaults for absent fields.
func ResolveMetrics(record models.StudentRecord) Metrics {
	return Metrics{
		AvgScore:          valueOr(record.AvgScore, DefaultAvgScore),
		TotalClicks:       valueOr(record.TotalClicks, DefaultTotalClicks),
		NumAssessments:    valueOr(record.NumAssessments, DefaultNumAssessments),
		NumInteractions:   valueOr(record.NumInteractions, DefaultNumInteractions),
		NumPrevAttempts:   valueOr(record.NumPrevAttempts, DefaultNumPrevAttempts),
		AvgSubmissionDate: valueOr(record.AvgSubmissionDate, DefaultAvgSubmissionDate),
		FirstAccess:       valueOr(record.FirstAccess, DefaultFirstAccess),
	}
}

// ValueOr dereferences value or returns fallback when it is nil.
func ValueOr(value *float64, fallback float64) float64 {
	return valueOr(value, fallback)
}

func valueOr(value *float64, fallback float64) float64 {
	if value == nil {
		return fallback
	}
	return *value
}
