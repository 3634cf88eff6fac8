package mqtt

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"gas-monitor/internal/logging"
)

// Client manages the MQTT connection (low-level connection management only)
// For subscribing and publishing, use FeedSubscriber and EventPublisher
type Client struct {
	client mqtt.Client
	config ClientConfig
	log    *logrus.Entry
}

// ClientConfig holds MQTT client configuration
type ClientConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// NewClient creates a new MQTT client connection
func NewClient(config ClientConfig, logger logrus.FieldLogger) (*Client, error) {
	log := logging.Component(logger, "mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("MQTT: Connection established")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("MQTT: Connection lost")
	})
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts.SetConnectTimeout(timeout)

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", config.Broker)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	log.WithField("broker", config.Broker).Info("MQTT Client: Connected to broker")

	return &Client{
		client: client,
		config: config,
		log:    log,
	}, nil
}

// GetNativeClient returns the underlying paho MQTT client
// This is used by FeedSubscriber and EventPublisher
func (c *Client) GetNativeClient() mqtt.Client {
	return c.client
}

// IsConnected returns whether the client is currently connected
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close closes the MQTT client connection
func (c *Client) Close() {
	c.client.Disconnect(250)
	c.log.Info("MQTT Client: Disconnected")
}
