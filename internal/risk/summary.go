package risk

import "math"

// Summary aggregates the outcome of a batch.
type Summary struct {
	TotalStudents    int     `json:"total_students"`
	AtRiskCount      int     `json:"at_risk_count"`
	AtRiskPercentage float64 `json:"at_risk_percentage"`
	HighRiskCount    int     `json:"high_risk_count"`
	MediumRiskCount  int     `json:"medium_risk_count"`
	LowRiskCount     int     `json:"low_risk_count"`
	AverageRiskScore float64 `json:"average_risk_score"`
}

// Summarize counts at-risk students and risk levels over scores.
func (e *Engine) Summarize(scores []float64) Summary {
	summary := Summary{TotalStudents: len(scores)}
	if len(scores) == 0 {
		return summary
	}

	total := 0.0
	for _, score := range scores {
		total += score
		if e.IsAtRisk(score) {
			summary.AtRiskCount++
		}
		switch e.Level(score) {
		case LevelHigh:
			summary.HighRiskCount++
		case LevelMedium:
			summary.MediumRiskCount++
		default:
			summary.LowRiskCount++
		}
	}

	n := float64(len(scores))
	summary.AtRiskPercentage = roundTenth(float64(summary.AtRiskCount) / n * 100)
	summary.AverageRiskScore = roundTenth(total / n)
	return summary
}

// roundTenth rounds to one decimal, ties to even.
func roundTenth(v float64) float64 {
	return math.RoundToEven(v*10) / 10
}
