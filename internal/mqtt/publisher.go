package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"gas-monitor/internal/logging"
	"gas-monitor/internal/models"
)

// TokenPublisher is the part of mqtt.Client the publisher needs
type TokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// EventPublisher publishes classified events and alerts
type EventPublisher struct {
	client   TokenPublisher
	deviceID string
	timeout  time.Duration
	log      *logrus.Entry

	// Topic patterns
	eventsTopic string // e.g., "gas/{device_id}/events"
	alertsTopic string // e.g., "gas/{device_id}/alerts"
}

// PublisherConfig holds configuration for MQTT publisher
type PublisherConfig struct {
	DeviceID    string
	EventsTopic string
	AlertsTopic string
	Timeout     time.Duration
}

// eventMessage is the wire format on both topics
type eventMessage struct {
	DeviceID string `json:"device_id"`
	models.ClassifiedEvent
	Alert bool `json:"alert,omitempty"`
}

// NewPublisher creates a new MQTT event publisher
func NewPublisher(client TokenPublisher, config PublisherConfig, logger logrus.FieldLogger) *EventPublisher {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &EventPublisher{
		client:      client,
		deviceID:    config.DeviceID,
		timeout:     timeout,
		log:         logging.Component(logger, "mqtt"),
		eventsTopic: config.EventsTopic,
		alertsTopic: config.AlertsTopic,
	}
}

// Record publishes every accepted event to the events topic
func (p *EventPublisher) Record(_ context.Context, ev models.ClassifiedEvent) error {
	if p.eventsTopic == "" {
		return nil
	}
	return p.publish(p.eventsTopic, eventMessage{DeviceID: p.deviceID, ClassifiedEvent: ev}, false)
}

// PublishAlert publishes Warning and Danger events to the alerts topic
func (p *EventPublisher) PublishAlert(ev models.ClassifiedEvent) error {
	if p.alertsTopic == "" {
		return nil
	}
	return p.publish(p.alertsTopic, eventMessage{DeviceID: p.deviceID, ClassifiedEvent: ev, Alert: true}, true)
}

func (p *EventPublisher) publish(pattern string, msg eventMessage, retained bool) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Replace {device_id} placeholder with actual device ID
	topic := formatTopic(pattern, p.deviceID)

	token := p.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}

	p.log.WithFields(logrus.Fields{"topic": topic, "entry_id": msg.EntryID}).Debug("MQTT Publisher: published event")
	return nil
}

// formatTopic replaces {device_id} placeholder with actual device ID
func formatTopic(topicPattern, deviceID string) string {
	return strings.ReplaceAll(topicPattern, "{device_id}", deviceID)
}
