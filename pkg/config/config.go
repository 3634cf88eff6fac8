package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	// Device / logging
	DeviceID  string
	LogLevel  string
	LogFormat string

	// Feed: "thingspeak" or "mqtt"
	FeedSource           string
	ThingSpeakBaseURL    string
	ThingSpeakChannelID  string
	ThingSpeakReadAPIKey string
	FeedTimeout          time.Duration
	FeedRateLimit        float64

	// Prediction loop
	FetchMaxRetries int
	DedupInterval   time.Duration
	CycleInterval   time.Duration
	HistorySize     int
	AutoStart       bool
	RestoreHistory  bool

	// ML Model Configuration
	ModelPath string

	// Alerts
	BeepEnabled  bool
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string
	MailTo       []string
	SMTPTimeout  time.Duration
	MailAsync    bool

	// MQTT Configuration
	MQTTBroker        string
	MQTTClientID      string
	MQTTUsername      string
	MQTTPassword      string
	MQTTTopicEvents   string
	MQTTTopicAlerts   string
	MQTTTopicReadings string

	// Event store: none, clickhouse or influx
	StoreBackend    string
	RecordQueueSize int
	ClickHouseAddr  string
	ClickHouseDB    string
	ClickHouseUser  string
	ClickHousePass  string
	InfluxDBURL     string
	InfluxDBToken   string
	InfluxDBOrg     string
	InfluxDBBucket  string

	// HTTP API, empty disables it
	HTTPAddr string
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		DeviceID:  getEnv("DEVICE_ID", "gas-monitor"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		FeedSource:           strings.ToLower(getEnv("FEED_SOURCE", "thingspeak")),
		ThingSpeakBaseURL:    getEnv("THINGSPEAK_BASE_URL", "https://api.thingspeak.com"),
		ThingSpeakChannelID:  getEnv("THINGSPEAK_CHANNEL_ID", ""),
		ThingSpeakReadAPIKey: getEnv("THINGSPEAK_READ_API_KEY", ""),
		FeedTimeout:          getEnvDuration("FEED_TIMEOUT", 10*time.Second),
		FeedRateLimit:        getEnvFloat("FEED_RATE_LIMIT", 1),

		FetchMaxRetries: getEnvInt("FETCH_MAX_RETRIES", 3),
		DedupInterval:   getEnvDuration("DEDUP_INTERVAL", 2*time.Second),
		CycleInterval:   getEnvDuration("CYCLE_INTERVAL", 1*time.Second),
		HistorySize:     getEnvInt("HISTORY_SIZE", 20),
		AutoStart:       getEnvBool("AUTO_START", false),
		RestoreHistory:  getEnvBool("RESTORE_HISTORY", true),

		ModelPath: getEnv("MODEL_PATH", "./model/gas_model.json"),

		BeepEnabled:  getEnvBool("BEEP_ENABLED", true),
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		MailFrom:     getEnv("MAIL_FROM", ""),
		MailTo:       getEnvList("MAIL_TO"),
		SMTPTimeout:  getEnvDuration("SMTP_TIMEOUT", 15*time.Second),
		MailAsync:    getEnvBool("MAIL_ASYNC", false),

		MQTTBroker:        getEnv("MQTT_BROKER", ""),
		MQTTClientID:      getEnv("MQTT_CLIENT_ID", "gas-monitor"),
		MQTTUsername:      getEnv("MQTT_USERNAME", ""),
		MQTTPassword:      getEnv("MQTT_PASSWORD", ""),
		MQTTTopicEvents:   getEnv("MQTT_TOPIC_EVENTS", "gas/{device_id}/events"),
		MQTTTopicAlerts:   getEnv("MQTT_TOPIC_ALERTS", "gas/{device_id}/alerts"),
		MQTTTopicReadings: getEnv("MQTT_TOPIC_READINGS", "sensor/+/gas"),

		StoreBackend:    strings.ToLower(getEnv("STORE_BACKEND", "none")),
		RecordQueueSize: getEnvInt("RECORD_QUEUE_SIZE", 100),
		ClickHouseAddr:  getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickHouseDB:    getEnv("CLICKHOUSE_DB", "gas"),
		ClickHouseUser:  getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass:  getEnv("CLICKHOUSE_PASS", ""),
		InfluxDBURL:     getEnv("INFLUXDB_URL", "http://localhost:8086"),
		InfluxDBToken:   getEnv("INFLUXDB_TOKEN", ""),
		InfluxDBOrg:     getEnv("INFLUXDB_ORG", ""),
		InfluxDBBucket:  getEnv("INFLUXDB_BUCKET", "gas"),

		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
	}
}

// MailEnabled reports whether enough SMTP settings are present to send mail
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != "" && c.MailFrom != "" && len(c.MailTo) > 0
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logrus.Warnf("Config: failed to parse %s as float, using default: %v", key, err)
		return defaultValue
	}
	return floatValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		logrus.Warnf("Config: failed to parse %s as int, using default: %v", key, err)
		return defaultValue
	}
	return intValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		logrus.Warnf("Config: failed to parse %s as bool, using default: %v", key, err)
		return defaultValue
	}
	return boolValue
}

// getEnvDuration accepts Go durations ("2s") or plain seconds ("2")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logrus.Warnf("Config: failed to parse %s as duration, using default: %v", key, err)
		return defaultValue
	}
	return time.Duration(secs * float64(time.Second))
}

// getEnvList splits a comma-separated value, dropping blanks
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
