package database

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/sirupsen/logrus"

	"gas-monitor/internal/logging"
	"gas-monitor/internal/models"
)

// conn is the subset of driver.Conn used here
type conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	Close() error
}

// ClickHouseConfig holds connection settings
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	DeviceID string
}

type ClickHouseDB struct {
	conn     conn
	deviceID string
	log      *logrus.Entry
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(ctx context.Context, config ClickHouseConfig, logger logrus.FieldLogger) (*ClickHouseDB, error) {
	c, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{config.Addr},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	db := newClickHouseDB(c, config.DeviceID, logger)
	db.log.WithField("addr", config.Addr).Info("Connected to ClickHouse")

	if err := db.prepare(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// prepare creates the schema and closes the connection if that fails
func (db *ClickHouseDB) prepare(ctx context.Context) error {
	if err := db.InitSchema(ctx); err != nil {
		_ = db.conn.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func newClickHouseDB(c conn, deviceID string, logger logrus.FieldLogger) *ClickHouseDB {
	return &ClickHouseDB{conn: c, deviceID: deviceID, log: logging.Component(logger, "clickhouse")}
}

// InitSchema creates the necessary tables if they don't exist
func (db *ClickHouseDB) InitSchema(ctx context.Context) error {
	for _, tableSQL := range AllTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	db.log.Info("Database schema initialized successfully")
	return nil
}

// SaveEvent saves a classified event to the database
func (db *ClickHouseDB) SaveEvent(ctx context.Context, sessionID string, ev models.ClassifiedEvent) error {
	query := `
		INSERT INTO classified_events (recorded_at, device_id, session_id, entry_id, feed_timestamp, temperature, humidity, gas_ppm, level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		time.Now(),
		db.deviceID,
		sessionID,
		ev.EntryID,
		ev.Timestamp,
		ev.Temperature,
		ev.Humidity,
		ev.GasPPM,
		ev.Level.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert classified event: %w", err)
	}

	return nil
}

// Record implements the loop's recorder hook
func (db *ClickHouseDB) Record(ctx context.Context, ev models.ClassifiedEvent) error {
	return db.SaveEvent(ctx, models.SessionID(ctx), ev)
}

// RecentEvents returns up to limit events for this device, oldest first.
// Used to restore the history after a restart.
func (db *ClickHouseDB) RecentEvents(ctx context.Context, limit int) ([]models.ClassifiedEvent, error) {
	query := `
		SELECT entry_id, feed_timestamp, temperature, humidity, gas_ppm, level
		FROM classified_events
		WHERE device_id = ?
		ORDER BY recorded_at DESC
		LIMIT ?
	`

	rows, err := db.conn.Query(ctx, query, db.deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	var events []models.ClassifiedEvent
	for rows.Next() {
		var ev models.ClassifiedEvent
		var level string
		if err := rows.Scan(&ev.EntryID, &ev.Timestamp, &ev.Temperature, &ev.Humidity, &ev.GasPPM, &level); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Level = models.ParseLevel(level)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	// newest first from the query
	slices.Reverse(events)
	return events, nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		if err := db.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		db.log.Info("ClickHouse connection closed")
	}
	return nil
}
