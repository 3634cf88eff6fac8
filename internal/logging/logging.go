// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing to stderr at the given level. format is
// "json" or "text"; unknown values fall back to text.
func New(level, format string) *logrus.Logger {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if err != nil && level != "" {
		logger.Warnf("Logging: unknown level %q, using info", level)
	}
	return logger
}

// Component tags every entry with the emitting component.
func Component(logger logrus.FieldLogger, name string) *logrus.Entry {
	if logger == nil {
		logger = Discard()
	}
	return logger.WithField("component", name)
}

// Discard returns a logger that drops everything. Used as the default for
// optional logger dependencies.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
