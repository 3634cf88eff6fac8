package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"gas-monitor/internal/feed"
	"gas-monitor/internal/logging"
	"gas-monitor/internal/models"
)

// TokenSubscriber is the part of mqtt.Client the subscriber needs
type TokenSubscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// FeedSubscriber is a feed.Client backed by an MQTT topic. It keeps the most
// recent reading; FetchLatest returns it, so repeated calls without new
// messages yield the same EntryID and are deduplicated by the loop.
type FeedSubscriber struct {
	client  TokenSubscriber
	topic   string // e.g., "sensor/+/gas"
	timeout time.Duration
	log     *logrus.Entry

	mu      sync.Mutex
	latest  models.Reading
	has     bool
	seq     uint64
	arrived chan struct{} // closed on first message
}

// SubscriberConfig holds configuration for MQTT subscriber
type SubscriberConfig struct {
	ReadingsTopic string
	WaitTimeout   time.Duration // how long FetchLatest waits for the first message
}

// gasPayload is the JSON form of a reading. field1 is accepted so devices can
// reuse their ThingSpeak payloads.
type gasPayload struct {
	EntryID   json.RawMessage `json:"entry_id"`
	CreatedAt string          `json:"created_at"`
	GasPPM    *float64        `json:"gas_ppm"`
	Field1    json.RawMessage `json:"field1"`
}

// NewSubscriber creates a new MQTT-backed feed
func NewSubscriber(client TokenSubscriber, config SubscriberConfig, logger logrus.FieldLogger) *FeedSubscriber {
	timeout := config.WaitTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FeedSubscriber{
		client:  client,
		topic:   config.ReadingsTopic,
		timeout: timeout,
		log:     logging.Component(logger, "mqtt"),
		arrived: make(chan struct{}),
	}
}

// Subscribe registers the readings handler with the broker
func (s *FeedSubscriber) Subscribe() error {
	if s.topic == "" {
		return errors.New("readings topic is empty")
	}
	token := s.client.Subscribe(s.topic, 1, s.handleReading)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to readings topic: %w", token.Error())
	}
	s.log.WithField("topic", s.topic).Info("Subscribed to readings topic")
	return nil
}

// FetchLatest returns the newest reading, waiting for the first one if
// nothing has arrived yet.
func (s *FeedSubscriber) FetchLatest(ctx context.Context) (models.Reading, error) {
	if r, ok := s.current(); ok {
		return r, nil
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-s.arrived:
		r, _ := s.current()
		return r, nil
	case <-timer.C:
		return models.Reading{}, &feed.FetchError{Kind: feed.KindTimeout, Err: fmt.Errorf("no reading on %s within %s", s.topic, s.timeout)}
	case <-ctx.Done():
		return models.Reading{}, &feed.FetchError{Kind: feed.KindTimeout, Err: ctx.Err()}
	}
}

func (s *FeedSubscriber) current() (models.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.has
}

// handleReading parses a gas reading and stores it as the latest
func (s *FeedSubscriber) handleReading(_ mqtt.Client, msg mqtt.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	reading, err := parseReading(msg.Payload(), s.seq)
	if err != nil {
		s.log.WithError(err).WithField("topic", msg.Topic()).Warn("Error parsing gas reading")
		return
	}

	s.latest = reading
	if !s.has {
		s.has = true
		close(s.arrived)
	}
	s.log.WithFields(logrus.Fields{"entry_id": reading.EntryID, "gas_ppm": reading.GasPPM}).Debug("Received gas reading")
}

// parseReading accepts either a JSON object or a bare number. Readings
// without an entry id get one from seq.
func parseReading(payload []byte, seq uint64) (models.Reading, error) {
	text := strings.TrimSpace(string(payload))
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		if !finite(v) {
			return models.Reading{}, fmt.Errorf("gas value %q is not a finite number", text)
		}
		return models.Reading{
			EntryID:   "mqtt-" + strconv.FormatUint(seq, 10),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
			GasPPM:    v,
		}, nil
	}

	var p gasPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return models.Reading{}, fmt.Errorf("invalid payload: %w", err)
	}

	var gas float64
	switch {
	case p.GasPPM != nil:
		gas = *p.GasPPM
	case len(p.Field1) > 0 && string(p.Field1) != "null":
		raw := strings.Trim(string(p.Field1), `"`)
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return models.Reading{}, fmt.Errorf("field1 %q is not numeric", raw)
		}
		gas = v
	default:
		return models.Reading{}, errors.New("payload has no gas value")
	}
	if !finite(gas) {
		return models.Reading{}, fmt.Errorf("gas value %v is not a finite number", gas)
	}

	entryID := strings.Trim(string(p.EntryID), `"`)
	if entryID == "" || entryID == "null" {
		entryID = "mqtt-" + strconv.FormatUint(seq, 10)
	}
	createdAt := p.CreatedAt
	if createdAt == "" {
		createdAt = time.Now().UTC().Format(time.RFC3339)
	}

	return models.Reading{EntryID: entryID, CreatedAt: createdAt, GasPPM: gas}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
