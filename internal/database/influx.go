package database

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"gas-monitor/internal/logging"
	"gas-monitor/internal/models"
)

// InfluxConfig holds InfluxDB v2 settings
type InfluxConfig struct {
	URL      string
	Token    string
	Org      string
	Bucket   string
	DeviceID string
}

// InfluxStore writes classified events as gas_reading points
type InfluxStore struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	deviceID string
	log      *logrus.Entry
}

// NewInfluxStore connects to InfluxDB and checks the server is reachable
func NewInfluxStore(ctx context.Context, config InfluxConfig, logger logrus.FieldLogger) (*InfluxStore, error) {
	client := influxdb2.NewClient(config.URL, config.Token)

	ok, err := client.Ping(ctx)
	if err != nil || !ok {
		client.Close()
		return nil, fmt.Errorf("failed to ping InfluxDB at %s: %v", config.URL, err)
	}

	s := NewInfluxStoreWithAPI(client.WriteAPIBlocking(config.Org, config.Bucket), config.DeviceID, logger)
	s.client = client
	s.log.WithFields(logrus.Fields{"url": config.URL, "bucket": config.Bucket}).Info("Connected to InfluxDB")
	return s, nil
}

// NewInfluxStoreWithAPI wraps an existing write API
func NewInfluxStoreWithAPI(writeAPI api.WriteAPIBlocking, deviceID string, logger logrus.FieldLogger) *InfluxStore {
	return &InfluxStore{
		writeAPI: writeAPI,
		deviceID: deviceID,
		log:      logging.Component(logger, "influx"),
	}
}

// Record writes one point per event. The point time is the feed timestamp
// when it parses, otherwise now.
func (s *InfluxStore) Record(ctx context.Context, ev models.ClassifiedEvent) error {
	if err := s.writeAPI.WritePoint(ctx, eventPoint(s.deviceID, models.SessionID(ctx), ev)); err != nil {
		return fmt.Errorf("failed to write gas reading point: %w", err)
	}
	return nil
}

func eventPoint(deviceID, sessionID string, ev models.ClassifiedEvent) *write.Point {
	ts, ok := ev.Time()
	if !ok {
		ts = time.Now()
	}
	tags := map[string]string{
		"device_id": deviceID,
		"level":     ev.Level.String(),
	}
	if sessionID != "" {
		tags["session_id"] = sessionID
	}
	return influxdb2.NewPoint(
		"gas_reading",
		tags,
		map[string]interface{}{
			"entry_id":    ev.EntryID,
			"temperature": ev.Temperature,
			"humidity":    ev.Humidity,
			"gas_ppm":     ev.GasPPM,
		},
		ts,
	)
}

// Close releases the underlying client
func (s *InfluxStore) Close() error {
	if s.client != nil {
		s.client.Close()
		s.log.Info("InfluxDB client closed")
	}
	return nil
}
