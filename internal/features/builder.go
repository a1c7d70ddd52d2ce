package features

import (
	"fmt"
	"math"

	"github.com/noah-isme/student-risk-api/internal/models"
)

// Dimension is the length of every feature vector handed to the scaler and the model.
var Dimension = len(models.CategoricalFields) + len(models.NumericFields)

// FeatureNames returns the training-time column order of the feature vector.
func FeatureNames() []string {
	names := make([]string, 0, Dimension)
	for _, field := range models.CategoricalFields {
		names = append(names, field+"_encoded")
	}
	return append(names, models.NumericFields...)
}

// Builder assembles ordered feature vectors from student records.
type Builder struct {
	encoders EncoderTable
	policy   UnknownCategoryPolicy
}

// NewBuilder constructs a builder over a trained encoder table.
func NewBuilder(encoders EncoderTable, policy UnknownCategoryPolicy) *Builder {
	if policy == "" {
		policy = UnknownFallback
	}
	return &Builder{encoders: encoders, policy: policy}
}

// Build returns the 28-dimension vector for record. Absent fields resolve to 0.
// Unknown categorical values never fail the build; they are reported as fallbacks.
func (b *Builder) Build(record models.StudentRecord) ([]float64, []EncodingFallback, error) {
	vector := make([]float64, 0, Dimension)
	var fallbacks []EncodingFallback

	for i, value := range record.Categoricals() {
		field := models.CategoricalFields[i]
		if value == nil {
			vector = append(vector, DefaultCode)
			continue
		}

		code, known := b.encoders.Encode(field, value.String())
		if !known {
			code = b.unknownCode()
			fallbacks = append(fallbacks, EncodingFallback{Field: field, Value: value.String(), Code: code})
		}
		vector = append(vector, float64(code))
	}

	for i, value := range record.Numerics() {
		if value == nil {
			vector = append(vector, 0)
			continue
		}
		if math.IsNaN(*value) || math.IsInf(*value, 0) {
			return nil, fallbacks, fmt.Errorf("field %s must be a finite number", models.NumericFields[i])
		}
		vector = append(vector, *value)
	}

	return vector, fallbacks, nil
}

func (b *Builder) unknownCode() int {
	if b.policy == UnknownSentinel {
		return SentinelCode
	}
	return DefaultCode
}
