package database

// SQL schemas for all ClickHouse tables

const (
	// ClassifiedEventsTableSQL creates the classified_events table. One row per
	// accepted reading; feed_timestamp keeps the raw feed value.
	ClassifiedEventsTableSQL = `
		CREATE TABLE IF NOT EXISTS classified_events (
			recorded_at DateTime64(3),
			device_id String,
			session_id String,
			entry_id String,
			feed_timestamp String,
			temperature Float64,
			humidity Float64,
			gas_ppm Float64,
			level LowCardinality(String)
		) ENGINE = MergeTree()
		ORDER BY (device_id, recorded_at)
		PARTITION BY toYYYYMM(recorded_at)
	`
)

// AllTables returns all table creation SQL statements
func AllTables() []string {
	return []string{
		ClassifiedEventsTableSQL,
	}
}
