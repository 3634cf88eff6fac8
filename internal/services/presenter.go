package services

import (
	"time"

	"github.com/sirupsen/logrus"

	"gas-monitor/internal/logging"
	"gas-monitor/internal/models"
)

// Snapshot is a read-only copy of the loop's state and history
type Snapshot struct {
	Running         bool                     `json:"running"`
	SessionID       string                   `json:"session_id,omitempty"`
	LastSeenEntryID string                   `json:"last_seen_entry_id,omitempty"`
	Capacity        int                      `json:"capacity"`
	Events          []models.ClassifiedEvent `json:"events"`
}

// Latest returns the newest event, if any
func (s Snapshot) Latest() (models.ClassifiedEvent, bool) {
	if len(s.Events) == 0 {
		return models.ClassifiedEvent{}, false
	}
	return s.Events[len(s.Events)-1], true
}

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Notice is an operator-facing message
type Notice struct {
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// Presenter renders loop output. Implementations must not retain or mutate
// the snapshot's slices beyond the call unless they copy them.
type Presenter interface {
	Present(s Snapshot)
	Report(n Notice)
}

// LogPresenter writes snapshots and notices to the logger. Used by the
// headless server.
type LogPresenter struct {
	log *logrus.Entry
}

func NewLogPresenter(logger logrus.FieldLogger) *LogPresenter {
	return &LogPresenter{log: logging.Component(logger, "presenter")}
}

func (p *LogPresenter) Present(s Snapshot) {
	ev, ok := s.Latest()
	if !ok {
		return
	}
	p.log.WithFields(logrus.Fields{
		"entry_id":    ev.EntryID,
		"timestamp":   ev.Timestamp,
		"temperature": models.Round2(ev.Temperature),
		"humidity":    models.Round2(ev.Humidity),
		"gas_ppm":     models.Round2(ev.GasPPM),
		"prediction":  ev.Level.String(),
		"history":     len(s.Events),
	}).Info("Prediction")
}

func (p *LogPresenter) Report(n Notice) {
	entry := p.log.WithField("severity", n.Severity.String())
	switch n.Severity {
	case SeverityError:
		entry.Error(n.Message)
	case SeverityWarning:
		entry.Warn(n.Message)
	default:
		entry.Info(n.Message)
	}
}

// MultiPresenter fans out to several presenters
type MultiPresenter []Presenter

func (m MultiPresenter) Present(s Snapshot) {
	for _, p := range m {
		p.Present(s)
	}
}

func (m MultiPresenter) Report(n Notice) {
	for _, p := range m {
		p.Report(n)
	}
}

type nopPresenter struct{}

func (nopPresenter) Present(Snapshot) {}
func (nopPresenter) Report(Notice)    {}
