package dto

import "github.com/noah-isme/student-risk-api/internal/risk"

// LegacyError is the error body of the unversioned routes.
type LegacyError struct {
	Error string `json:"error"`
}

// LegacyPrediction is the unwrapped /predict payload read by the dashboard.
type LegacyPrediction struct {
	IsAtRisk       bool          `json:"isAtRisk"`
	RiskScore      float64       `json:"riskScore"`
	AnomalyScore   float64       `json:"anomalyScore"`
	Prediction     int           `json:"prediction"`
	Confidence     float64       `json:"confidence"`
	RiskFactors    []risk.Factor `json:"riskFactors"`
	Recommendation string        `json:"recommendation"`
	Warnings       []string      `json:"warnings,omitempty"`
}

// LegacyBatchRow mixes camelCase verdict fields with the echoed snake_case inputs.
type LegacyBatchRow struct {
	StudentID      string   `json:"student_id"`
	IsAtRisk       bool     `json:"isAtRisk"`
	RiskScore      float64  `json:"riskScore"`
	AnomalyScore   float64  `json:"anomalyScore"`
	Prediction     int      `json:"prediction"`
	Confidence     float64  `json:"confidence"`
	RiskLevel      string   `json:"riskLevel"`
	NumRiskFactors int      `json:"numRiskFactors"`
	TopRiskFactors []string `json:"topRiskFactors"`
	Recommendation string   `json:"recommendation"`
	AvgScore       float64  `json:"avg_score"`
	TotalClicks    float64  `json:"total_clicks"`
	NumAssessments float64  `json:"num_assessments"`
}

// LegacyBatchResponse is the unwrapped /predict_batch payload.
type LegacyBatchResponse struct {
	Summary     risk.Summary     `json:"summary"`
	Predictions []LegacyBatchRow `json:"predictions"`
	Failures    []RowFailure     `json:"failures,omitempty"`
}

// NewLegacyPrediction reshapes a prediction for the unversioned route.
func NewLegacyPrediction(p PredictionResponse) LegacyPrediction {
	return LegacyPrediction{
		IsAtRisk:       p.IsAtRisk,
		RiskScore:      p.RiskScore,
		AnomalyScore:   p.AnomalyScore,
		Prediction:     p.Prediction,
		Confidence:     p.Confidence,
		RiskFactors:    p.RiskFactors,
		Recommendation: p.Recommendation,
		Warnings:       p.Warnings,
	}
}

// NewLegacyBatchResponse reshapes a batch result for the unversioned route.
func NewLegacyBatchResponse(b BatchPredictionResponse) LegacyBatchResponse {
	rows := make([]LegacyBatchRow, len(b.Predictions))
	for i, row := range b.Predictions {
		rows[i] = LegacyBatchRow{
			StudentID:      row.StudentID,
			IsAtRisk:       row.IsAtRisk,
			RiskScore:      row.RiskScore,
			AnomalyScore:   row.AnomalyScore,
			Prediction:     row.Prediction,
			Confidence:     row.Confidence,
			RiskLevel:      row.RiskLevel,
			NumRiskFactors: row.NumRiskFactors,
			TopRiskFactors: row.TopRiskFactors,
			Recommendation: row.Recommendation,
			AvgScore:       row.AvgScore,
			TotalClicks:    row.TotalClicks,
			NumAssessments: row.NumAssessments,
		}
	}

	return LegacyBatchResponse{
		Summary:     b.Summary,
		Predictions: rows,
		Failures:    b.Failures,
	}
}
