package risk

import (
	"fmt"
	"strconv"

	"github.com/noah-isme/student-risk-api/internal/features"
)

// Severity grades a contributing factor.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Factor names reported by Analyze, in check order.
const (
	FactorVeryLowAverageScore  = "Very Low Average Score"
	FactorLowAverageScore      = "Low Average Score"
	FactorVeryLowEngagement    = "Very Low Platform Engagement"
	FactorLowEngagement        = "Low Platform Engagement"
	FactorFewAssessments       = "Few Assessments Completed"
	FactorMultiplePrevAttempts = "Multiple Previous Attempts"
	FactorLateSubmissions      = "Consistently Late Submissions"
	FactorVeryLowActivity      = "Very Low Learning Activity"
	FactorSuspiciousPattern    = "Suspicious Pattern: High Scores with Low Engagement"
	FactorLateCourseStart      = "Late Course Start"
)

// Factor thresholds. The suspicious-pattern check reuses Config.Suspicious.
const (
	veryLowAvgScore      = 40.0
	lowAvgScore          = 60.0
	veryLowClicks        = 200.0
	lowClicks            = 500.0
	fewAssessments       = 3.0
	veryFewAssessments   = 2.0
	multiplePrevAttempts = 1.0
	lateSubmissionDay    = 150.0
	veryLowInteractions  = 5.0
	lateFirstAccessDay   = 50.0
)

// Factor is one human-readable contributor to a student's risk.
type Factor struct {
	Name        string      `json:"factor"`
	Value       interface{} `json:"value"`
	Severity    Severity    `json:"severity"`
	Description string      `json:"description"`
}

// Analyze inspects raw metrics and lists contributing factors in a fixed check
// order. The result does not depend on the model verdict or the risk score.
func (e *Engine) Analyze(m features.Metrics) []Factor {
	factors := make([]Factor, 0, 4)

	switch {
	case m.AvgScore < veryLowAvgScore:
		factors = append(factors, Factor{
			Name:        FactorVeryLowAverageScore,
			Value:       m.AvgScore,
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("Average score of %.1f%% is significantly below passing", m.AvgScore),
		})
	case m.AvgScore < lowAvgScore:
		factors = append(factors, Factor{
			Name:        FactorLowAverageScore,
			Value:       m.AvgScore,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("Average score of %.1f%% indicates struggling", m.AvgScore),
		})
	}

	switch {
	case m.TotalClicks < veryLowClicks:
		factors = append(factors, Factor{
			Name:        FactorVeryLowEngagement,
			Value:       m.TotalClicks,
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("Only %s total clicks shows minimal engagement", formatNumber(m.TotalClicks)),
		})
	case m.TotalClicks < lowClicks:
		factors = append(factors, Factor{
			Name:        FactorLowEngagement,
			Value:       m.TotalClicks,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("%s clicks is below average engagement", formatNumber(m.TotalClicks)),
		})
	}

	if m.NumAssessments < fewAssessments {
		severity := SeverityMedium
		if m.NumAssessments < veryFewAssessments {
			severity = SeverityHigh
		}
		factors = append(factors, Factor{
			Name:        FactorFewAssessments,
			Value:       m.NumAssessments,
			Severity:    severity,
			Description: fmt.Sprintf("Only %s assessments completed", formatNumber(m.NumAssessments)),
		})
	}

	if m.NumPrevAttempts > multiplePrevAttempts {
		factors = append(factors, Factor{
			Name:        FactorMultiplePrevAttempts,
			Value:       m.NumPrevAttempts,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("%s previous attempts indicates persistent difficulty", formatNumber(m.NumPrevAttempts)),
		})
	}

	if m.AvgSubmissionDate > lateSubmissionDay {
		factors = append(factors, Factor{
			Name:        FactorLateSubmissions,
			Value:       m.AvgSubmissionDate,
			Severity:    SeverityMedium,
			Description: "Assignments submitted late on average",
		})
	}

	if m.NumInteractions < veryLowInteractions {
		factors = append(factors, Factor{
			Name:        FactorVeryLowActivity,
			Value:       m.NumInteractions,
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("Only %s learning interactions recorded", formatNumber(m.NumInteractions)),
		})
	}

	if e.cfg.Suspicious.Matches(m.AvgScore, m.TotalClicks) {
		factors = append(factors, Factor{
			Name:        FactorSuspiciousPattern,
			Value:       fmt.Sprintf("Score: %.1f%%, Clicks: %s", m.AvgScore, formatNumber(m.TotalClicks)),
			Severity:    SeverityHigh,
			Description: "Unusually high performance with minimal platform use may warrant investigation",
		})
	}

	if m.FirstAccess > lateFirstAccessDay {
		factors = append(factors, Factor{
			Name:        FactorLateCourseStart,
			Value:       m.FirstAccess,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("First accessed course on day %s", formatNumber(m.FirstAccess)),
		})
	}

	return factors
}

// TopFactorNames returns the names of at most n leading factors.
func TopFactorNames(factors []Factor, n int) []string {
	if n > len(factors) {
		n = len(factors)
	}
	names := make([]string, 0, n)
	for _, factor := range factors[:n] {
		names = append(names, factor.Name)
	}
	return names
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
