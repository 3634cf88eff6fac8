package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Level is the risk class assigned to a reading by the classifier
type Level int

const (
	LevelUnknown Level = iota
	LevelSafe
	LevelWarning
	LevelDanger
)

// String returns the label used by the model, the dashboard and emails
func (l Level) String() string {
	switch l {
	case LevelSafe:
		return "Safe"
	case LevelWarning:
		return "Warning"
	case LevelDanger:
		return "Danger"
	default:
		return "Unknown"
	}
}

// ParseLevel decodes a model label. Anything other than Safe, Warning or
// Danger maps to LevelUnknown.
func ParseLevel(label string) Level {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "safe":
		return LevelSafe
	case "warning":
		return LevelWarning
	case "danger":
		return LevelDanger
	default:
		return LevelUnknown
	}
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	*l = ParseLevel(string(text))
	return nil
}

// Reading is one entry published by the telemetry feed
type Reading struct {
	EntryID   string  `json:"entry_id"`
	CreatedAt string  `json:"created_at"` // raw feed timestamp
	GasPPM    float64 `json:"gas_ppm"`
}

// Features is the classifier input vector
type Features struct {
	Temperature float64 `json:"temperature"` // Celsius
	Humidity    float64 `json:"humidity"`    // Percentage 0-100
	GasPPM      float64 `json:"gas_ppm"`
}

// ClassifiedEvent is a reading together with its synthetic features and
// predicted level. It is created once per accepted reading.
type ClassifiedEvent struct {
	EntryID     string  `json:"entry_id"`
	Timestamp   string  `json:"timestamp"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	GasPPM      float64 `json:"gas_ppm"`
	Level       Level   `json:"level"`
}

// NewClassifiedEvent builds the event for an accepted reading
func NewClassifiedEvent(r Reading, f Features, level Level) ClassifiedEvent {
	return ClassifiedEvent{
		EntryID:     r.EntryID,
		Timestamp:   r.CreatedAt,
		Temperature: f.Temperature,
		Humidity:    f.Humidity,
		GasPPM:      f.GasPPM,
		Level:       level,
	}
}

// Time parses the feed timestamp. ThingSpeak uses RFC3339; manual entries
// use the "2006-01-02 15:04:05" layout.
func (e ClassifiedEvent) Time() (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, ManualTimeLayout} {
		if t, err := time.Parse(layout, e.Timestamp); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (e ClassifiedEvent) String() string {
	return fmt.Sprintf("entry=%s time=%s temp=%.2f°C humidity=%.2f%% gas=%.2fppm level=%s",
		e.EntryID, e.Timestamp, e.Temperature, e.Humidity, e.GasPPM, e.Level)
}

// ManualTimeLayout is the timestamp format for manual predictions
const ManualTimeLayout = "2006-01-02 15:04:05"

// Round2 rounds to the two decimal places used for display
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
