package service

import (
	"errors"
	"fmt"
)

var (
	// ErrModelUnavailable indicates the model bundle was never loaded.
	ErrModelUnavailable = errors.New("model not loaded")
	// ErrMissingInput indicates an empty record or an empty students list.
	ErrMissingInput = errors.New("no student data provided")
	// ErrUnsupportedFile indicates an uploaded batch file that is not CSV text.
	ErrUnsupportedFile = errors.New("file type not allowed")
	// ErrFileTooLarge indicates an uploaded batch file above the configured limit.
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
)

// PreprocessingError reports a record that could not be turned into a feature vector.
// Row is the zero-based batch index, or -1 for single predictions.
type PreprocessingError struct {
	Row       int
	StudentID string
	Err       error
}

func (e *PreprocessingError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("preprocessing failed: %v", e.Err)
	}
	if e.StudentID != "" {
		return fmt.Sprintf("row %d (student %s): %v", e.Row, e.StudentID, e.Err)
	}
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *PreprocessingError) Unwrap() error {
	return e.Err
}
