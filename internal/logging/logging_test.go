package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug", "json")

	Component(logger, "loop").WithField("entry_id", "42").Debug("PredictionLoop: accepted")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "loop", line["component"])
	assert.Equal(t, "42", line["entry_id"])
	assert.Equal(t, "PredictionLoop: accepted", line["msg"])
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "loud", "text")

	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.Contains(t, buf.String(), "unknown level")
}

func TestComponentNilLogger(t *testing.T) {
	entry := Component(nil, "feed")
	require.NotNil(t, entry)
	entry.Info("dropped")
}
