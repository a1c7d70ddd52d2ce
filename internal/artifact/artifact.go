// Package artifact persists the trained model, scaler and encoders as one
// bundle of JSON documents.
package artifact

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/noah-isme/student-risk-api/internal/anomaly"
	"github.com/noah-isme/student-risk-api/internal/features"
)

// File names inside an artifact directory.
const (
	ModelFile    = "model.json"
	ScalerFile   = "scaler.json"
	EncodersFile = "encoders.json"
)

// ModelVersion identifies the scoring algorithm the bundle was trained for.
const ModelVersion = "1.3"

var (
	// ErrNotFound is returned when any bundle file is missing.
	ErrNotFound = errors.New("model artifacts not found")
	// ErrInvalid is returned when a bundle file is malformed or inconsistent.
	ErrInvalid = errors.New("model artifacts invalid")
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaFiles = map[string]string{
	ModelFile:    "model.schema.json",
	ScalerFile:   "scaler.schema.json",
	EncodersFile: "encoders.schema.json",
}

var (
	schemaOnce     sync.Once
	compiledSchema map[string]*jsonschema.Schema
	schemaErr      error
)

// Metadata describes how the bundle was trained.
type Metadata struct {
	Version      string    `json:"version"`
	TrainedAt    time.Time `json:"trained_at"`
	Seed         int64     `json:"seed"`
	F1Score      float64   `json:"f1_score"`
	TrainRows    int       `json:"train_rows"`
	TestRows     int       `json:"test_rows"`
	FeatureNames []string  `json:"feature_names"`
}

// Bundle is everything the prediction service needs to score a record.
type Bundle struct {
	Metadata Metadata
	Forest   *anomaly.IsolationForest
	Scaler   *features.Scaler
	Encoders features.EncoderTable
}

type modelDocument struct {
	Metadata Metadata                 `json:"metadata"`
	Forest   *anomaly.IsolationForest `json:"forest"`
}

type scalerDocument struct {
	FeatureNames []string  `json:"feature_names"`
	Mean         []float64 `json:"mean"`
	Scale        []float64 `json:"scale"`
}

// Validate checks that the three parts agree with each other and with the feature layout.
func (b *Bundle) Validate() error {
	if b.Forest == nil {
		return errors.New("bundle has no forest")
	}
	if err := b.Forest.Validate(); err != nil {
		return err
	}
	if b.Forest.NumFeatures != features.Dimension {
		return fmt.Errorf("forest expects %d features, want %d", b.Forest.NumFeatures, features.Dimension)
	}
	if b.Scaler == nil {
		return errors.New("bundle has no scaler")
	}
	if b.Scaler.Dimension() != features.Dimension || len(b.Scaler.Scale) != features.Dimension {
		return fmt.Errorf("scaler has %d dimensions, want %d", b.Scaler.Dimension(), features.Dimension)
	}
	return b.Encoders.Validate()
}

// Save writes bundle into dir, creating it when needed. Each file is replaced atomically.
func Save(dir string, bundle *Bundle) error {
	if bundle == nil {
		return errors.New("bundle is nil")
	}
	if err := bundle.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	metadata := bundle.Metadata
	if metadata.Version == "" {
		metadata.Version = ModelVersion
	}
	if metadata.TrainedAt.IsZero() {
		metadata.TrainedAt = time.Now().UTC()
	}
	if len(metadata.FeatureNames) == 0 {
		metadata.FeatureNames = features.FeatureNames()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	scaler := scalerDocument{
		FeatureNames: metadata.FeatureNames,
		Mean:         bundle.Scaler.Mean,
		Scale:        bundle.Scaler.Scale,
	}
	if err := writeJSON(filepath.Join(dir, ScalerFile), scaler); err != nil {
		return fmt.Errorf("write %s: %w", ScalerFile, err)
	}
	if err := writeJSON(filepath.Join(dir, EncodersFile), bundle.Encoders); err != nil {
		return fmt.Errorf("write %s: %w", EncodersFile, err)
	}
	// The model is written last so a reader never sees a new model with stale preprocessing.
	model := modelDocument{Metadata: metadata, Forest: bundle.Forest}
	if err := writeJSON(filepath.Join(dir, ModelFile), model); err != nil {
		return fmt.Errorf("write %s: %w", ModelFile, err)
	}
	return nil
}

// Load reads and validates a bundle. It returns ErrNotFound when a file is
// missing and ErrInvalid when any file fails validation; no partial bundle is returned.
func Load(dir string) (*Bundle, error) {
	var model modelDocument
	if err := readDocument(dir, ModelFile, &model); err != nil {
		return nil, err
	}
	var scaler scalerDocument
	if err := readDocument(dir, ScalerFile, &scaler); err != nil {
		return nil, err
	}
	var encoders features.EncoderTable
	if err := readDocument(dir, EncodersFile, &encoders); err != nil {
		return nil, err
	}

	bundle := &Bundle{
		Metadata: model.Metadata,
		Forest:   model.Forest,
		Scaler:   &features.Scaler{Mean: scaler.Mean, Scale: scaler.Scale},
		Encoders: encoders,
	}
	if err := bundle.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return bundle, nil
}

func readDocument(dir, name string, target interface{}) error {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := validateDocument(name, data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
	}
	return nil
}

func validateDocument(name string, data []byte) error {
	schemas, err := loadSchemas()
	if err != nil {
		return err
	}
	schema, ok := schemas[name]
	if !ok {
		return fmt.Errorf("no schema registered for %s", name)
	}

	var payload interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	return schema.Validate(payload)
}

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiled := make(map[string]*jsonschema.Schema, len(schemaFiles))
		for name, schemaFile := range schemaFiles {
			raw, err := schemaFS.ReadFile("schemas/" + schemaFile)
			if err != nil {
				schemaErr = err
				return
			}
			if err := compiler.AddResource(schemaFile, bytes.NewReader(raw)); err != nil {
				schemaErr = fmt.Errorf("add schema %s: %w", schemaFile, err)
				return
			}
			schema, err := compiler.Compile(schemaFile)
			if err != nil {
				schemaErr = fmt.Errorf("compile schema %s: %w", schemaFile, err)
				return
			}
			compiled[name] = schema
		}
		compiledSchema = compiled
	})
	return compiledSchema, schemaErr
}

func writeJSON(path string, value interface{}) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	encoder := json.NewEncoder(tmp)
	if err := encoder.Encode(value); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
