package risk

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-risk-api/internal/anomaly"
	"github.com/noah-isme/student-risk-api/internal/features"
	"github.com/noah-isme/student-risk-api/internal/models"
)

func ptr(v float64) *float64 {
	return &v
}

func neutralMetrics() features.Metrics {
	return features.ResolveMetrics(models.StudentRecord{})
}

func TestBaseRiskBuckets(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	cases := []struct {
		score float64
		want  float64
	}{
		{0.2, 0},
		{-0.45, 0},
		{-0.4500001, 10},
		{-0.50, 10},
		{-0.52, 25},
		{-0.55, 25},
		{-0.60, 40},
		{-0.65, 55},
		{-0.70, 55},
		{-0.75, 70},
		{-0.80, 70},
		{-0.95, 85},
		{-1.00, 85},
		{-1.01, 95},
		{-4, 95},
	}

	for _, tc := range cases {
		require.Equal(t, tc.want, engine.BaseRisk(tc.score), "score %v", tc.score)
	}
}

func TestScenarioStrugglingAnomaly(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	metrics := features.ResolveMetrics(models.StudentRecord{
		AvgScore:        ptr(35),
		TotalClicks:     ptr(150),
		NumAssessments:  ptr(3),
		NumInteractions: ptr(5),
		NumPrevAttempts: ptr(2),
	})

	breakdown := engine.Explain(-0.75, anomaly.Anomaly, metrics)
	require.Equal(t, 70.0, breakdown.BaseRisk)
	require.Equal(t, 55.0, breakdown.Adjustment())
	require.Equal(t, 100.0, breakdown.Final)
	require.True(t, engine.IsAtRisk(breakdown.Final))

	factors := engine.Analyze(metrics)
	require.NotEmpty(t, factors)
	require.Equal(t, FactorVeryLowAverageScore, factors[0].Name)
	require.Equal(t, SeverityHigh, factors[0].Severity)
}

func TestScenarioEngagedNormal(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	metrics := features.ResolveMetrics(models.StudentRecord{
		AvgScore:        ptr(75),
		TotalClicks:     ptr(850),
		NumAssessments:  ptr(8),
		NumInteractions: ptr(15),
		NumPrevAttempts: ptr(0),
	})

	risk := engine.ComputeRisk(-0.30, anomaly.Normal, metrics)
	require.Less(t, risk, 50.0)
	require.Equal(t, 0.0, risk)
	require.False(t, engine.IsAtRisk(risk))
}

func TestScenarioSuspiciousPatternStacks(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	suspicious := features.ResolveMetrics(models.StudentRecord{AvgScore: ptr(92), TotalClicks: ptr(120)})
	engaged := features.ResolveMetrics(models.StudentRecord{AvgScore: ptr(92), TotalClicks: ptr(900)})

	withPattern := engine.Explain(-0.6, anomaly.Anomaly, suspicious)
	withoutPattern := engine.Explain(-0.6, anomaly.Anomaly, engaged)

	require.Equal(t, 20.0, withPattern.Suspicious)
	require.Equal(t, 0.0, withoutPattern.Suspicious)
	require.Equal(t, 65.0, withPattern.Final)
	require.Equal(t, 25.0, withoutPattern.Final)
	require.Equal(t, 40.0, withPattern.Final-withoutPattern.Final, "engagement +20 and suspicious +20")

	names := TopFactorNames(engine.Analyze(suspicious), 10)
	require.Contains(t, names, FactorSuspiciousPattern)
}

func TestAnomalyFloorOverridesLowCombinedRisk(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	metrics := features.ResolveMetrics(models.StudentRecord{
		AvgScore:        ptr(39),
		TotalClicks:     ptr(1300),
		NumAssessments:  ptr(10),
		NumInteractions: ptr(20),
	})

	breakdown := engine.Explain(-0.3, anomaly.Anomaly, metrics)
	require.Equal(t, 0.0, breakdown.Combined)
	require.False(t, breakdown.CeilingApplied)
	require.True(t, breakdown.FloorApplied)
	require.Equal(t, 60.0, breakdown.Final)

	// Same metrics judged normal: no floor.
	require.Equal(t, 0.0, engine.ComputeRisk(-0.3, anomaly.Normal, metrics))
}

func TestNormalCeilingCapsHighCombinedRisk(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	metrics := features.ResolveMetrics(models.StudentRecord{
		AvgScore:        ptr(72),
		TotalClicks:     ptr(820),
		NumAssessments:  ptr(1),
		NumInteractions: ptr(2),
		NumPrevAttempts: ptr(4),
	})

	breakdown := engine.Explain(-2, anomaly.Normal, metrics)
	require.Equal(t, 100.0, breakdown.Combined)
	require.True(t, breakdown.CeilingApplied)
	require.Equal(t, 30.0, breakdown.Final)

	anomalous := engine.Explain(-2, anomaly.Anomaly, metrics)
	require.False(t, anomalous.CeilingApplied)
	require.Equal(t, 100.0, anomalous.Final)
}

func TestOverridesFollowModelLabel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ceiling = Ceiling{MinAvgScore: -1, MinTotalClicks: -1, Cap: 30}
	cfg.Floor = Floor{MaxAvgScore: 1000, MaxTotalClicks: 0, Minimum: 60}
	engine := NewEngine(cfg)

	// Neutral metrics only add the +5 click adjustment.
	metrics := neutralMetrics()
	require.Equal(t, 30.0, engine.ComputeRisk(-2, anomaly.Normal, metrics))
	require.Equal(t, 5.0, engine.ComputeRisk(0, anomaly.Normal, metrics))
	require.Equal(t, 100.0, engine.ComputeRisk(-2, anomaly.Anomaly, metrics))
	require.Equal(t, 60.0, engine.ComputeRisk(0, anomaly.Anomaly, metrics))
}

func TestComputeRiskStaysWithinBounds(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	rng := rand.New(rand.NewSource(42))
	extremes := []float64{-1e9, -1000, -1, 0, 1, 29.9, 85.1, 300, 1e9}

	pick := func(scale float64) float64 {
		if rng.Intn(4) == 0 {
			return extremes[rng.Intn(len(extremes))]
		}
		return rng.Float64() * scale
	}

	for i := 0; i < 5000; i++ {
		metrics := features.Metrics{
			AvgScore:        pick(110),
			TotalClicks:     pick(3000),
			NumAssessments:  pick(15),
			NumInteractions: pick(30),
			NumPrevAttempts: pick(5),
		}
		label := anomaly.Normal
		if rng.Intn(2) == 0 {
			label = anomaly.Anomaly
		}
		rawScore := -5 * rng.Float64()

		risk := engine.ComputeRisk(rawScore, label, metrics)
		require.GreaterOrEqual(t, risk, 0.0)
		require.LessOrEqual(t, risk, 100.0)
	}
}

func TestAdjustmentsAreMonotonic(t *testing.T) {
	cfg := DefaultConfig()

	nonIncreasing := func(name string, rules RuleSet, from, to, step float64) {
		previous := rules.adjustment(from)
		for v := from + step; v <= to; v += step {
			current := rules.adjustment(v)
			require.LessOrEqual(t, current, previous, "%s adjustment grew at %v", name, v)
			previous = current
		}
	}

	nonIncreasing("avg_score", cfg.AvgScore, -10, 110, 0.5)
	nonIncreasing("total_clicks", cfg.TotalClicks, -100, 2000, 5)
	nonIncreasing("num_assessments", cfg.NumAssessments, 0, 20, 1)
	nonIncreasing("num_interactions", cfg.NumInteractions, 0, 30, 1)

	previous := cfg.PrevAttempts.adjustment(0)
	for v := 1.0; v <= 6; v++ {
		current := cfg.PrevAttempts.adjustment(v)
		require.GreaterOrEqual(t, current, previous, "prev attempts adjustment shrank at %v", v)
		previous = current
	}
}

func TestLevelBoundaries(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	require.Equal(t, LevelLow, engine.Level(40))
	require.Equal(t, LevelMedium, engine.Level(40.1))
	require.Equal(t, LevelMedium, engine.Level(70))
	require.Equal(t, LevelHigh, engine.Level(70.5))

	require.True(t, engine.IsAtRisk(50))
	require.False(t, engine.IsAtRisk(49.9))
}
