package risk

import (
	"math"

	"github.com/noah-isme/student-risk-api/internal/anomaly"
	"github.com/noah-isme/student-risk-api/internal/features"
)

// Confidence is the fixed confidence reported alongside every assessment.
const Confidence = 0.85

// Level names used for batch reporting.
const (
	LevelHigh   = "High"
	LevelMedium = "Medium"
	LevelLow    = "Low"
)

// Engine applies the rule layer configured by Config. It holds no mutable state.
type Engine struct {
	cfg Config
}

// NewEngine constructs an engine over cfg.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine thresholds.
func (e *Engine) Config() Config {
	return e.cfg
}

// Breakdown explains how a final risk score was derived.
type Breakdown struct {
	BaseRisk        float64 `json:"base_risk"`
	AvgScore        float64 `json:"avg_score_adjustment"`
	TotalClicks     float64 `json:"total_clicks_adjustment"`
	NumAssessments  float64 `json:"num_assessments_adjustment"`
	NumInteractions float64 `json:"num_interactions_adjustment"`
	PrevAttempts    float64 `json:"prev_attempts_adjustment"`
	Suspicious      float64 `json:"suspicious_adjustment"`
	Combined        float64 `json:"combined"`
	CeilingApplied  bool    `json:"ceiling_applied"`
	FloorApplied    bool    `json:"floor_applied"`
	Final           float64 `json:"final"`
}

// Adjustment is the sum of all rule-based corrections.
func (b Breakdown) Adjustment() float64 {
	return b.AvgScore + b.TotalClicks + b.NumAssessments + b.NumInteractions + b.PrevAttempts + b.Suspicious
}

// ComputeRisk returns the final risk percentage in [0, 100].
func (e *Engine) ComputeRisk(rawScore float64, label anomaly.Label, metrics features.Metrics) float64 {
	return e.Explain(rawScore, label, metrics).Final
}

// Explain computes the risk and keeps every intermediate step.
func (e *Engine) Explain(rawScore float64, label anomaly.Label, metrics features.Metrics) Breakdown {
	cfg := e.cfg
	b := Breakdown{
		BaseRisk:        e.BaseRisk(rawScore),
		AvgScore:        cfg.AvgScore.adjustment(metrics.AvgScore),
		TotalClicks:     cfg.TotalClicks.adjustment(metrics.TotalClicks),
		NumAssessments:  cfg.NumAssessments.adjustment(metrics.NumAssessments),
		NumInteractions: cfg.NumInteractions.adjustment(metrics.NumInteractions),
		PrevAttempts:    cfg.PrevAttempts.adjustment(metrics.NumPrevAttempts),
	}
	if cfg.Suspicious.Matches(metrics.AvgScore, metrics.TotalClicks) {
		b.Suspicious = cfg.Suspicious.Bonus
	}

	b.Combined = clamp(b.BaseRisk+b.Adjustment(), cfg.MinRisk, cfg.MaxRisk)
	final := b.Combined

	// The floor runs last so an anomaly with poor metrics always ends at or above it.
	if label == anomaly.Normal && metrics.AvgScore > cfg.Ceiling.MinAvgScore && metrics.TotalClicks > cfg.Ceiling.MinTotalClicks {
		final = math.Min(final, cfg.Ceiling.Cap)
		b.CeilingApplied = true
	}
	if label == anomaly.Anomaly && (metrics.AvgScore < cfg.Floor.MaxAvgScore || metrics.TotalClicks < cfg.Floor.MaxTotalClicks) {
		final = math.Max(final, cfg.Floor.Minimum)
		b.FloorApplied = true
	}

	b.Final = final
	return b
}

// BaseRisk buckets the raw anomaly score.
func (e *Engine) BaseRisk(rawScore float64) float64 {
	for _, bucket := range e.cfg.Buckets {
		if rawScore >= bucket.MinScore {
			return bucket.BaseRisk
		}
	}
	return e.cfg.FallbackRisk
}

// IsAtRisk derives the verdict from the final risk, not from the model label.
func (e *Engine) IsAtRisk(risk float64) bool {
	return risk >= e.cfg.Bands.AtRisk
}

// Level labels a risk score as High, Medium or Low.
func (e *Engine) Level(risk float64) string {
	switch {
	case risk > e.cfg.Bands.High:
		return LevelHigh
	case risk > e.cfg.Bands.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

func clamp(value, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, value))
}
