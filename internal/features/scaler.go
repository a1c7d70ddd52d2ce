package features

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// ErrDimensionMismatch is returned when a vector does not match the fitted dimensionality.
var ErrDimensionMismatch = errors.New("feature dimension mismatch")

// Scaler standardizes vectors with per-dimension statistics captured at training time.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler computes the mean and population standard deviation of every
// column of matrix. Constant columns get a scale of 1.
func FitScaler(matrix [][]float64) (*Scaler, error) {
	if len(matrix) == 0 {
		return nil, errors.New("cannot fit scaler on empty matrix")
	}

	width := len(matrix[0])
	scaler := &Scaler{
		Mean:  make([]float64, width),
		Scale: make([]float64, width),
	}

	column := make([]float64, len(matrix))
	for j := 0; j < width; j++ {
		for i, row := range matrix {
			if len(row) != width {
				return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrDimensionMismatch, i, len(row), width)
			}
			column[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(column, nil)
		if std == 0 {
			std = 1
		}
		scaler.Mean[j] = mean
		scaler.Scale[j] = std
	}

	return scaler, nil
}

// Dimension reports how many features the scaler was fitted on.
func (s *Scaler) Dimension() int {
	return len(s.Mean)
}

// Transform standardizes vector into a new slice.
func (s *Scaler) Transform(vector []float64) ([]float64, error) {
	if len(vector) != len(s.Mean) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), len(s.Mean))
	}

	out := make([]float64, len(vector))
	for i, value := range vector {
		out[i] = (value - s.Mean[i]) / s.Scale[i]
	}
	return out, nil
}

// TransformAll standardizes every row of matrix.
func (s *Scaler) TransformAll(matrix [][]float64) ([][]float64, error) {
	out := make([][]float64, len(matrix))
	for i, row := range matrix {
		scaled, err := s.Transform(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = scaled
	}
	return out, nil
}
