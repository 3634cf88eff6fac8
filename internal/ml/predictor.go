package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"gas-monitor/internal/models"
)

// Classifier maps the three sensor features to a risk level. Implementations
// must be deterministic and free of side effects.
type Classifier interface {
	Classify(temperature, humidity, gasPPM float64) (models.Level, error)
}

// ClassificationError reports a model that could not produce a label. It is
// not expected with a well-formed model.
type ClassificationError struct {
	Features models.Features
	Err      error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed for temp=%.2f humidity=%.2f gas=%.2f: %v",
		e.Features.Temperature, e.Features.Humidity, e.Features.GasPPM, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// FeatureNames is the column order every model is trained on.
var FeatureNames = []string{"Temperature", "Humidity", "GasConcentrationPPM"}

// Scaler standardises inputs as (x - mean) / scale
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Model is a multinomial linear classifier over standardised features.
// Coefficients has one row per label.
type Model struct {
	Features     []string    `json:"features"`
	Scaler       Scaler      `json:"scaler"`
	Coefficients [][]float64 `json:"coefficients"`
	Intercepts   []float64   `json:"intercepts"`
	Labels       []string    `json:"labels"`
	Version      string      `json:"version,omitempty"`
}

// Validate checks that the model dimensions agree
func (m *Model) Validate() error {
	n := len(FeatureNames)
	if len(m.Scaler.Mean) != n || len(m.Scaler.Scale) != n {
		return fmt.Errorf("scaler must have %d entries, got mean=%d scale=%d", n, len(m.Scaler.Mean), len(m.Scaler.Scale))
	}
	if len(m.Labels) == 0 {
		return errors.New("model has no labels")
	}
	if len(m.Coefficients) != len(m.Labels) || len(m.Intercepts) != len(m.Labels) {
		return fmt.Errorf("expected %d coefficient rows and intercepts, got %d and %d",
			len(m.Labels), len(m.Coefficients), len(m.Intercepts))
	}
	for i, row := range m.Coefficients {
		if len(row) != n {
			return fmt.Errorf("coefficient row %d has %d entries, want %d", i, len(row), n)
		}
	}
	return nil
}

// Predictor scores the model and decodes the winning label
type Predictor struct {
	model *Model
}

// NewPredictor creates a new predictor by loading the model from file
func NewPredictor(modelPath string) (*Predictor, error) {
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}

	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model: %w", err)
	}

	return NewPredictorFromModel(&model)
}

// NewPredictorFromModel wraps an in-memory model
func NewPredictorFromModel(model *Model) (*Predictor, error) {
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model: %w", err)
	}
	return &Predictor{model: model}, nil
}

// Version returns the model version string, if any
func (p *Predictor) Version() string {
	return p.model.Version
}

// Classify standardises the inputs, scores every label and returns the
// highest scoring one. Unrecognised labels decode to LevelUnknown.
func (p *Predictor) Classify(temperature, humidity, gasPPM float64) (models.Level, error) {
	x := []float64{temperature, humidity, gasPPM}
	for i := range x {
		scale := p.model.Scaler.Scale[i]
		if scale == 0 {
			scale = 1
		}
		x[i] = (x[i] - p.model.Scaler.Mean[i]) / scale
	}

	best := -1
	bestScore := math.Inf(-1)
	for k, row := range p.model.Coefficients {
		score := p.model.Intercepts[k]
		for i, coef := range row {
			score += coef * x[i]
		}
		if math.IsNaN(score) {
			return models.LevelUnknown, &ClassificationError{
				Features: models.Features{Temperature: temperature, Humidity: humidity, GasPPM: gasPPM},
				Err:      fmt.Errorf("score for label %q is NaN", p.model.Labels[k]),
			}
		}
		if score > bestScore {
			best, bestScore = k, score
		}
	}

	if best < 0 {
		return models.LevelUnknown, &ClassificationError{
			Features: models.Features{Temperature: temperature, Humidity: humidity, GasPPM: gasPPM},
			Err:      errors.New("every label scored -Inf"),
		}
	}

	return models.ParseLevel(p.model.Labels[best]), nil
}

// SampleModel returns a small model whose decision boundaries sit close to
// 100 ppm (Safe/Warning) and 300 ppm (Warning/Danger). Labels are in label
// encoder order.
func SampleModel() *Model {
	return &Model{
		Features: FeatureNames,
		Scaler: Scaler{
			Mean:  []float64{25, 55, 200},
			Scale: []float64{2.9, 8.7, 150},
		},
		Coefficients: [][]float64{
			{0.05, 0.02, 4.0},    // Danger
			{-0.05, -0.02, -4.0}, // Safe
			{0, 0, 0},            // Warning
		},
		Intercepts: []float64{-2.667, -2.667, 0},
		Labels:     []string{"Danger", "Safe", "Warning"},
		Version:    "sample-1",
	}
}

// CreateSampleModel writes SampleModel to path
func CreateSampleModel(path string) error {
	data, err := json.MarshalIndent(SampleModel(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}
	return nil
}
