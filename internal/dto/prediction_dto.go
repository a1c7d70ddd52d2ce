package dto

import (
	"time"

	"github.com/noah-isme/student-risk-api/internal/models"
	"github.com/noah-isme/student-risk-api/internal/risk"
)

// PredictionResponse is the full assessment for a single student.
type PredictionResponse struct {
	IsAtRisk       bool          `json:"is_at_risk"`
	RiskScore      float64       `json:"risk_score"`
	AnomalyScore   float64       `json:"anomaly_score"`
	Prediction     int           `json:"prediction"`
	Confidence     float64       `json:"confidence"`
	RiskLevel      string        `json:"risk_level"`
	RiskFactors    []risk.Factor `json:"risk_factors"`
	Recommendation string        `json:"recommendation"`
	Warnings       []string      `json:"warnings,omitempty"`
}

// BatchPredictionRequest carries the students to score in one call.
type BatchPredictionRequest struct {
	Students []models.StudentRecord `json:"students" validate:"required,min=1"`
}

// BatchPredictionRow is the condensed per-student result of a batch.
type BatchPredictionRow struct {
	StudentID      string   `json:"student_id"`
	IsAtRisk       bool     `json:"is_at_risk"`
	RiskScore      float64  `json:"risk_score"`
	AnomalyScore   float64  `json:"anomaly_score"`
	Prediction     int      `json:"prediction"`
	Confidence     float64  `json:"confidence"`
	RiskLevel      string   `json:"risk_level"`
	NumRiskFactors int      `json:"num_risk_factors"`
	TopRiskFactors []string `json:"top_risk_factors"`
	Recommendation string   `json:"recommendation"`
	AvgScore       float64  `json:"avg_score"`
	TotalClicks    float64  `json:"total_clicks"`
	NumAssessments float64  `json:"num_assessments"`
	Warnings       []string `json:"warnings,omitempty"`
}

// RowFailure describes a batch row that could not be scored.
type RowFailure struct {
	Row       int    `json:"row"`
	StudentID string `json:"student_id,omitempty"`
	Error     string `json:"error"`
}

// BatchPredictionResponse aggregates a scored batch.
type BatchPredictionResponse struct {
	BatchID     string               `json:"batch_id"`
	Summary     risk.Summary         `json:"summary"`
	Predictions []BatchPredictionRow `json:"predictions"`
	Failures    []RowFailure         `json:"failures,omitempty"`
}

// ModelInfoResponse describes the loaded model bundle.
type ModelInfoResponse struct {
	ModelType     string     `json:"model_type"`
	ModelLoaded   bool       `json:"model_loaded"`
	Version       string     `json:"version"`
	Description   string     `json:"description"`
	TrainedAt     *time.Time `json:"trained_at,omitempty"`
	NumEstimators int        `json:"n_estimators,omitempty"`
	Contamination float64    `json:"contamination,omitempty"`
	F1Score       float64    `json:"f1_score,omitempty"`
}

// DiagnosisResult is the outcome for one canned student profile.
type DiagnosisResult struct {
	Student        string  `json:"student"`
	Prediction     int     `json:"prediction"`
	AnomalyScore   float64 `json:"anomaly_score"`
	RiskScore      float64 `json:"risk_score"`
	Interpretation string  `json:"interpretation"`
}

// DiagnosisResponse lists the canned profile outcomes.
type DiagnosisResponse struct {
	Diagnosis []DiagnosisResult `json:"diagnosis"`
	ModelInfo ModelInfoResponse `json:"model_info"`
}
