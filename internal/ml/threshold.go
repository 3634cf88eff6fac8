package ml

import "gas-monitor/internal/models"

// ThresholdClassifier labels readings by gas concentration alone. It is the
// fallback when no model file is available.
type ThresholdClassifier struct {
	WarningPPM float64 // gas >= WarningPPM is at least Warning
	DangerPPM  float64 // gas >= DangerPPM is Danger
}

// DefaultThresholds returns the 100/300 ppm classifier
func DefaultThresholds() ThresholdClassifier {
	return ThresholdClassifier{WarningPPM: 100, DangerPPM: 300}
}

func (c ThresholdClassifier) Classify(_, _, gasPPM float64) (models.Level, error) {
	switch {
	case gasPPM >= c.DangerPPM:
		return models.LevelDanger, nil
	case gasPPM >= c.WarningPPM:
		return models.LevelWarning, nil
	default:
		return models.LevelSafe, nil
	}
}
