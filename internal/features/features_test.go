package features

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-risk-api/internal/models"
)

func testEncoders() EncoderTable {
	return FitEncoders(map[string][]string{
		models.FieldCodeModule:       {"BBB", "AAA", "CCC", "AAA"},
		models.FieldCodePresentation: {"2013J", "2014B"},
		models.FieldGender:           {"M", "F"},
		models.FieldRegion:           {"Scotland", "East Anglian Region"},
		models.FieldHighestEducation: {"HE Qualification", "A Level or Equivalent"},
		models.FieldIMDBand:          {"20-30%", "nan"},
		models.FieldAgeBand:          {"0-35", "35-55"},
		models.FieldDisability:       {"N", "Y"},
	})
}

func floatPtr(v float64) *float64 {
	return &v
}

func categoryPtr(v string) *models.Category {
	c := models.Category(v)
	return &c
}

func TestFitEncodersAssignsSortedCodes(t *testing.T) {
	table := testEncoders()
	require.NoError(t, table.Validate())

	code, ok := table.Encode(models.FieldCodeModule, "AAA")
	require.True(t, ok)
	require.Equal(t, 0, code)

	code, ok = table.Encode(models.FieldCodeModule, "CCC")
	require.True(t, ok)
	require.Equal(t, 2, code)

	require.Len(t, table[models.FieldCodeModule], 3)
}

func TestEncodeUnknownValueFallsBackToZero(t *testing.T) {
	table := testEncoders()

	code, ok := table.Encode(models.FieldRegion, "Atlantis")
	require.False(t, ok)
	require.Equal(t, DefaultCode, code)

	code, ok = table.Encode("not_a_field", "x")
	require.False(t, ok)
	require.Equal(t, DefaultCode, code)
}

func TestBuilderProducesOrderedVector(t *testing.T) {
	builder := NewBuilder(testEncoders(), UnknownFallback)

	record := models.StudentRecord{
		CodeModule:  categoryPtr("CCC"),
		Gender:      categoryPtr("M"),
		AvgScore:    floatPtr(72.5),
		TotalClicks: floatPtr(-10),
	}

	vector, fallbacks, err := builder.Build(record)
	require.NoError(t, err)
	require.Empty(t, fallbacks)
	require.Len(t, vector, Dimension)
	require.Equal(t, 28, Dimension)

	names := FeatureNames()
	require.Len(t, names, Dimension)
	index := func(name string) int {
		for i, n := range names {
			if n == name {
				return i
			}
		}
		t.Fatalf("feature %s not found", name)
		return -1
	}

	require.Equal(t, "code_module_encoded", names[0])
	require.Equal(t, "num_unregistrations", names[27])
	require.Equal(t, 2.0, vector[index("code_module_encoded")])
	require.Equal(t, 1.0, vector[index("gender_encoded")])
	require.Equal(t, 72.5, vector[index("avg_score")])
	require.Equal(t, -10.0, vector[index("total_clicks")], "negative values pass through unchanged")
	require.Equal(t, 0.0, vector[index("studied_credits")])
	require.Equal(t, 0.0, vector[index("region_encoded")])
}

func TestBuilderReportsUnknownCategories(t *testing.T) {
	record := models.StudentRecord{Region: categoryPtr("Atlantis")}

	vector, fallbacks, err := NewBuilder(testEncoders(), UnknownFallback).Build(record)
	require.NoError(t, err)
	require.Equal(t, 0.0, vector[3])
	require.Equal(t, []EncodingFallback{{Field: models.FieldRegion, Value: "Atlantis", Code: DefaultCode}}, fallbacks)

	vector, fallbacks, err = NewBuilder(testEncoders(), UnknownSentinel).Build(record)
	require.NoError(t, err)
	require.Equal(t, float64(SentinelCode), vector[3])
	require.Len(t, fallbacks, 1)
	require.Equal(t, SentinelCode, fallbacks[0].Code)
}

func TestBuilderRejectsNonFiniteNumbers(t *testing.T) {
	record := models.StudentRecord{AvgScore: floatPtr(math.NaN())}
	_, _, err := NewBuilder(testEncoders(), UnknownFallback).Build(record)
	require.Error(t, err)
	require.Contains(t, err.Error(), "avg_score")
}

func TestCategoryAcceptsScalars(t *testing.T) {
	var record models.StudentRecord
	payload := `{"code_presentation": 2013, "disability": false, "region": "Scotland", "gender": null}`
	require.NoError(t, json.Unmarshal([]byte(payload), &record))

	require.Equal(t, "2013", record.CodePresentation.String())
	require.Equal(t, "false", record.Disability.String())
	require.Equal(t, "Scotland", record.Region.String())
	require.Nil(t, record.Gender)

	require.Error(t, json.Unmarshal([]byte(`{"region": {"a": 1}}`), &record))
}

func TestScalerStandardizesWithTrainingStatistics(t *testing.T) {
	matrix := [][]float64{
		{1, 10, 5},
		{3, 20, 5},
		{5, 30, 5},
	}

	scaler, err := FitScaler(matrix)
	require.NoError(t, err)
	require.Equal(t, 3, scaler.Dimension())
	require.InDeltaSlice(t, []float64{3, 20, 5}, scaler.Mean, 1e-9)
	require.InDelta(t, math.Sqrt(8.0/3.0), scaler.Scale[0], 1e-9)
	require.Equal(t, 1.0, scaler.Scale[2], "constant columns keep unit scale")

	out, err := scaler.Transform([]float64{3, 30, 7})
	require.NoError(t, err)
	require.InDelta(t, 0.0, out[0], 1e-9)
	require.InDelta(t, 10/math.Sqrt(200.0/3.0), out[1], 1e-9)
	require.InDelta(t, 2.0, out[2], 1e-9)
}

func TestScalerRejectsWrongDimension(t *testing.T) {
	scaler := &Scaler{Mean: []float64{0, 0}, Scale: []float64{1, 1}}
	_, err := scaler.Transform([]float64{1, 2, 3})
	require.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = FitScaler([][]float64{{1, 2}, {1}})
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestResolveMetricsAppliesRuleDefaults(t *testing.T) {
	metrics := ResolveMetrics(models.StudentRecord{TotalClicks: floatPtr(0)})
	require.Equal(t, DefaultAvgScore, metrics.AvgScore)
	require.Equal(t, 0.0, metrics.TotalClicks, "explicit zero is kept")
	require.Equal(t, DefaultNumAssessments, metrics.NumAssessments)
	require.Equal(t, DefaultNumInteractions, metrics.NumInteractions)
	require.Equal(t, 0.0, metrics.NumPrevAttempts)
}

func TestParseUnknownCategoryPolicy(t *testing.T) {
	policy, err := ParseUnknownCategoryPolicy("")
	require.NoError(t, err)
	require.Equal(t, UnknownFallback, policy)

	policy, err = ParseUnknownCategoryPolicy(" Sentinel ")
	require.NoError(t, err)
	require.Equal(t, UnknownSentinel, policy)

	_, err = ParseUnknownCategoryPolicy("drop")
	require.Error(t, err)
}
