package features

import (
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/student-risk-api/internal/models"
)

// UnknownCategoryPolicy selects the code used for categorical values never seen during training.
type UnknownCategoryPolicy string

const (
	// UnknownFallback maps unknown values to code 0, which collides with the
	// first trained category of every field.
	UnknownFallback UnknownCategoryPolicy = "fallback"
	// UnknownSentinel maps unknown values to SentinelCode.
	UnknownSentinel UnknownCategoryPolicy = "sentinel"
)

// DefaultCode is used for absent categorical fields and for unknown values under UnknownFallback.
const DefaultCode = 0

// SentinelCode is reserved for unknown values under UnknownSentinel.
const SentinelCode = -1

// ParseUnknownCategoryPolicy validates a configured policy name.
func ParseUnknownCategoryPolicy(value string) (UnknownCategoryPolicy, error) {
	switch policy := UnknownCategoryPolicy(strings.ToLower(strings.TrimSpace(value))); policy {
	case "", UnknownFallback:
		return UnknownFallback, nil
	case UnknownSentinel:
		return UnknownSentinel, nil
	default:
		return "", fmt.Errorf("unknown category policy %q", value)
	}
}

// Vocabulary maps an observed categorical value to its integer code.
type Vocabulary map[string]int

// EncoderTable holds one vocabulary per categorical field.
type EncoderTable map[string]Vocabulary

// FitEncoders builds vocabularies from the observed values of each field. Codes
// follow the sorted order of distinct values, starting at 0.
func FitEncoders(observed map[string][]string) EncoderTable {
	table := make(EncoderTable, len(observed))
	for field, values := range observed {
		seen := make(map[string]struct{}, len(values))
		distinct := make([]string, 0)
		for _, value := range values {
			if _, ok := seen[value]; ok {
				continue
			}
			seen[value] = struct{}{}
			distinct = append(distinct, value)
		}
		sort.Strings(distinct)

		vocab := make(Vocabulary, len(distinct))
		for code, value := range distinct {
			vocab[value] = code
		}
		table[field] = vocab
	}
	return table
}

// Encode looks up value in the field's vocabulary. The second result is false
// when the field or the value was never seen during training.
func (t EncoderTable) Encode(field, value string) (int, bool) {
	vocab, ok := t[field]
	if !ok {
		return DefaultCode, false
	}
	code, ok := vocab[value]
	if !ok {
		return DefaultCode, false
	}
	return code, true
}

// Validate checks that every categorical field has a vocabulary.
func (t EncoderTable) Validate() error {
	for _, field := range models.CategoricalFields {
		if _, ok := t[field]; !ok {
			return fmt.Errorf("encoder table missing field %s", field)
		}
	}
	return nil
}

// EncodingFallback records an unknown categorical value that was replaced by a fallback code.
type EncodingFallback struct {
	Field string `json:"field"`
	Value string `json:"value"`
	Code  int    `json:"code"`
}

func (f EncodingFallback) String() string {
	return fmt.Sprintf("unknown value %q for %s: using code %d", f.Value, f.Field, f.Code)
}
