// Package risk turns an anomaly score and raw student metrics into a bounded
// risk percentage, contributing factors and an intervention recommendation.
package risk

// Comparison is the operator of a threshold rule.
type Comparison int

const (
	LessThan Comparison = iota
	GreaterThan
	AtLeast
)

func (c Comparison) matches(value, threshold float64) bool {
	switch c {
	case LessThan:
		return value < threshold
	case GreaterThan:
		return value > threshold
	case AtLeast:
		return value >= threshold
	}
	return false
}

// Rule adds Delta to the risk when its comparison holds.
type Rule struct {
	Op        Comparison
	Threshold float64
	Delta     float64
}

// RuleSet is evaluated top-down; the first matching rule wins.
type RuleSet []Rule

func (rs RuleSet) adjustment(value float64) float64 {
	for _, rule := range rs {
		if rule.Op.matches(value, rule.Threshold) {
			return rule.Delta
		}
	}
	return 0
}

// Bucket maps anomaly scores at or above MinScore to BaseRisk.
type Bucket struct {
	MinScore float64
	BaseRisk float64
}

// SuspiciousPattern flags high scores achieved with little platform use.
type SuspiciousPattern struct {
	MinAvgScore    float64
	MaxTotalClicks float64
	Bonus          float64
}

// Matches reports whether the metrics show the pattern.
func (p SuspiciousPattern) Matches(avgScore, totalClicks float64) bool {
	return avgScore > p.MinAvgScore && totalClicks < p.MaxTotalClicks
}

// Ceiling caps the risk of students the model considers normal and whose metrics are good.
type Ceiling struct {
	MinAvgScore    float64
	MinTotalClicks float64
	Cap            float64
}

// Floor raises the risk of students the model flags and whose metrics are poor.
type Floor struct {
	MaxAvgScore    float64
	MaxTotalClicks float64
	Minimum        float64
}

// Bands are the risk boundaries shared by labeling, recommendations and batch summaries.
type Bands struct {
	// Reassure is the exclusive upper bound of the "performing well" recommendation.
	Reassure float64
	// AtRisk is the inclusive lower bound of an at-risk verdict and the
	// exclusive lower bound of the check-in recommendation.
	AtRisk float64
	// Medium is the exclusive lower bound of the medium risk level.
	Medium float64
	// High is the exclusive lower bound of the high risk level and urgent recommendation.
	High float64
}

// Config gathers every calibration constant of the rule layer.
type Config struct {
	Buckets         []Bucket
	FallbackRisk    float64
	AvgScore        RuleSet
	TotalClicks     RuleSet
	NumAssessments  RuleSet
	NumInteractions RuleSet
	PrevAttempts    RuleSet
	Suspicious      SuspiciousPattern
	Ceiling         Ceiling
	Floor           Floor
	Bands           Bands
	MinRisk         float64
	MaxRisk         float64
}

// DefaultConfig returns the thresholds tuned to the isolation forest score range.
func DefaultConfig() Config {
	return Config{
		Buckets: []Bucket{
			{MinScore: -0.45, BaseRisk: 0},
			{MinScore: -0.50, BaseRisk: 10},
			{MinScore: -0.55, BaseRisk: 25},
			{MinScore: -0.60, BaseRisk: 40},
			{MinScore: -0.70, BaseRisk: 55},
			{MinScore: -0.80, BaseRisk: 70},
			{MinScore: -1.00, BaseRisk: 85},
		},
		FallbackRisk: 95,
		AvgScore: RuleSet{
			{Op: LessThan, Threshold: 30, Delta: 25},
			{Op: LessThan, Threshold: 40, Delta: 15},
			{Op: LessThan, Threshold: 50, Delta: 8},
			{Op: GreaterThan, Threshold: 85, Delta: -15},
			{Op: GreaterThan, Threshold: 75, Delta: -10},
		},
		TotalClicks: RuleSet{
			{Op: LessThan, Threshold: 200, Delta: 20},
			{Op: LessThan, Threshold: 400, Delta: 12},
			{Op: LessThan, Threshold: 600, Delta: 5},
			{Op: GreaterThan, Threshold: 1200, Delta: -15},
			{Op: GreaterThan, Threshold: 900, Delta: -10},
		},
		NumAssessments: RuleSet{
			{Op: LessThan, Threshold: 3, Delta: 12},
			{Op: LessThan, Threshold: 5, Delta: 5},
			{Op: AtLeast, Threshold: 8, Delta: -8},
		},
		NumInteractions: RuleSet{
			{Op: LessThan, Threshold: 5, Delta: 10},
			{Op: LessThan, Threshold: 8, Delta: 5},
			{Op: AtLeast, Threshold: 15, Delta: -8},
		},
		PrevAttempts: RuleSet{
			{Op: AtLeast, Threshold: 3, Delta: 15},
			{Op: AtLeast, Threshold: 2, Delta: 10},
			{Op: AtLeast, Threshold: 1, Delta: 5},
		},
		Suspicious: SuspiciousPattern{MinAvgScore: 85, MaxTotalClicks: 300, Bonus: 20},
		Ceiling:    Ceiling{MinAvgScore: 70, MinTotalClicks: 800, Cap: 30},
		Floor:      Floor{MaxAvgScore: 40, MaxTotalClicks: 300, Minimum: 60},
		Bands:      Bands{Reassure: 30, AtRisk: 50, Medium: 40, High: 70},
		MinRisk:    0,
		MaxRisk:    100,
	}
}
