package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"gas-monitor/internal/alert"
	"gas-monitor/internal/logging"
	"gas-monitor/internal/metrics"
	"gas-monitor/internal/ml"
	"gas-monitor/internal/models"
)

// ErrAllZero rejects a manual entry where every field is zero
var ErrAllZero = errors.New("enter valid input values, all fields are zero")

// ValidationError reports an out-of-range manual input
type ValidationError struct {
	Field string
	Value float64
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %.2f: %s", e.Field, e.Value, e.Msg)
}

// Prediction is the result of a manual classification. AlertErr is set when
// an alert channel failed; the prediction itself is still valid.
type Prediction struct {
	Event    models.ClassifiedEvent `json:"event"`
	AlertErr error                  `json:"-"`
}

// ManualPredictor classifies operator-entered readings and alerts the same
// way the loop does. Manual results are not added to the history.
type ManualPredictor struct {
	classifier ml.Classifier
	alerts     alert.Sink
	metrics    *metrics.Metrics
	log        *logrus.Entry
	now        func() time.Time
}

func NewManualPredictor(classifier ml.Classifier, alerts alert.Sink, m *metrics.Metrics, logger logrus.FieldLogger) *ManualPredictor {
	return &ManualPredictor{
		classifier: classifier,
		alerts:     alerts,
		metrics:    m,
		log:        logging.Component(logger, "manual"),
		now:        time.Now,
	}
}

// Validate checks manual inputs. Temperature and humidity must lie in
// [0, 100], gas must be non-negative, and not all three may be zero.
func Validate(temperature, humidity, gasPPM float64) error {
	if temperature == 0 && humidity == 0 && gasPPM == 0 {
		return ErrAllZero
	}
	checks := []struct {
		field    string
		value    float64
		min, max float64
	}{
		{"temperature", temperature, 0, 100},
		{"humidity", humidity, 0, 100},
		{"gas concentration", gasPPM, 0, math.Inf(1)},
	}
	for _, c := range checks {
		if math.IsNaN(c.value) {
			return &ValidationError{Field: c.field, Value: c.value, Msg: "not a number"}
		}
		if c.value < c.min || c.value > c.max {
			msg := fmt.Sprintf("must be between %.0f and %.0f", c.min, c.max)
			if math.IsInf(c.max, 1) {
				msg = "must not be negative"
			}
			return &ValidationError{Field: c.field, Value: c.value, Msg: msg}
		}
	}
	return nil
}

// Predict validates, classifies and alerts. The classifier is never called
// for invalid input.
func (m *ManualPredictor) Predict(ctx context.Context, temperature, humidity, gasPPM float64) (Prediction, error) {
	if err := Validate(temperature, humidity, gasPPM); err != nil {
		return Prediction{}, err
	}

	level, err := m.classifier.Classify(temperature, humidity, gasPPM)
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to classify manual entry: %w", err)
	}

	ev := models.ClassifiedEvent{
		EntryID:     "manual",
		Timestamp:   m.now().Format(models.ManualTimeLayout),
		Temperature: temperature,
		Humidity:    humidity,
		GasPPM:      gasPPM,
		Level:       level,
	}
	m.metrics.Event(level.String())

	p := Prediction{Event: ev}
	if level == models.LevelDanger || level == models.LevelWarning {
		m.metrics.Alert(level.String())
		if err := alert.Dispatch(ctx, m.alerts, ev); err != nil {
			m.metrics.NotifyFailure()
			m.log.WithError(err).Warn("ManualPredictor: alert delivery failed")
			p.AlertErr = err
		}
	}

	m.log.WithFields(logrus.Fields{"prediction": level.String(), "gas_ppm": gasPPM}).Info("ManualPredictor: prediction")
	return p, nil
}
