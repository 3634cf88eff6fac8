package ml

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gas-monitor/internal/models"
)

func TestSampleModelBoundaries(t *testing.T) {
	p, err := NewPredictorFromModel(SampleModel())
	require.NoError(t, err)

	tests := []struct {
		gas  float64
		want models.Level
	}{
		{10, models.LevelSafe},
		{50, models.LevelSafe},
		{200, models.LevelWarning},
		{400, models.LevelDanger},
		{900, models.LevelDanger},
	}
	for _, tt := range tests {
		for _, env := range [][2]float64{{20, 40}, {25, 55}, {30, 70}} {
			got, err := p.Classify(env[0], env[1], tt.gas)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "gas=%.0f temp=%.0f humidity=%.0f", tt.gas, env[0], env[1])
		}
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	p, err := NewPredictorFromModel(SampleModel())
	require.NoError(t, err)

	first, err := p.Classify(23.1, 61.7, 287)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := p.Classify(23.1, 61.7, 287)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestUnknownLabelDecodesToUnknown(t *testing.T) {
	m := SampleModel()
	m.Labels = []string{"Evacuate", "Safe", "Warning"}
	p, err := NewPredictorFromModel(m)
	require.NoError(t, err)

	got, err := p.Classify(25, 55, 800)
	require.NoError(t, err)
	assert.Equal(t, models.LevelUnknown, got)
}

func TestNaNInputIsClassificationError(t *testing.T) {
	p, err := NewPredictorFromModel(SampleModel())
	require.NoError(t, err)

	_, err = p.Classify(25, 55, math.NaN())
	var cerr *ClassificationError
	require.True(t, errors.As(err, &cerr))
	assert.True(t, math.IsNaN(cerr.Features.GasPPM))
}

func TestAllScoresNegativeInfinity(t *testing.T) {
	m := SampleModel()
	m.Intercepts = []float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	p, err := NewPredictorFromModel(m)
	require.NoError(t, err)

	var got models.Level
	require.NotPanics(t, func() { got, err = p.Classify(25, 55, 50) })
	assert.Equal(t, models.LevelUnknown, got)
	var cerr *ClassificationError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	assert.Equal(t, 50.0, cerr.Features.GasPPM)
}

func TestModelValidate(t *testing.T) {
	m := SampleModel()
	m.Coefficients = m.Coefficients[:2]
	_, err := NewPredictorFromModel(m)
	assert.Error(t, err)

	m = SampleModel()
	m.Scaler.Mean = []float64{1}
	assert.Error(t, m.Validate())

	m = SampleModel()
	m.Labels = nil
	assert.Error(t, m.Validate())
}

func TestCreateSampleModelRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, CreateSampleModel(path))

	p, err := NewPredictor(path)
	require.NoError(t, err)
	assert.Equal(t, "sample-1", p.Version())

	level, err := p.Classify(25, 55, 420)
	require.NoError(t, err)
	assert.Equal(t, models.LevelDanger, level)
}

func TestNewPredictorErrors(t *testing.T) {
	_, err := NewPredictor(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))
	_, err = NewPredictor(bad)
	assert.Error(t, err)
}

func TestThresholdClassifier(t *testing.T) {
	c := DefaultThresholds()
	tests := []struct {
		gas  float64
		want models.Level
	}{
		{0, models.LevelSafe},
		{99.99, models.LevelSafe},
		{100, models.LevelWarning},
		{299, models.LevelWarning},
		{300, models.LevelDanger},
	}
	for _, tt := range tests {
		got, err := c.Classify(25, 55, tt.gas)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "gas=%v", tt.gas)
	}
}
