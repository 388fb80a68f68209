package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultReadingLimit = 50
	maxReadingLimit     = 500
)

// SQLiteSensorReadingRepository implements SensorReadingRepository using SQLite.
//
// Readings land in the sensor_readings table. This is the durable local
// record; the time-series database (when enabled) mirrors the same data
// for dashboarding but is not the source of truth.
type SQLiteSensorReadingRepository struct {
	db *sql.DB
}

// NewSQLiteSensorReadingRepository creates a new SQLite sensor reading repository.
func NewSQLiteSensorReadingRepository(db *sql.DB) *SQLiteSensorReadingRepository {
	return &SQLiteSensorReadingRepository{db: db}
}

// Append records a sensor reading for a device.
func (r *SQLiteSensorReadingRepository) Append(ctx context.Context, reading *SensorReading) error {
	if reading == nil {
		return fmt.Errorf("%w: reading is required", ErrInvalidReading)
	}
	if reading.DeviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidReading)
	}
	if reading.SensorType == "" {
		return fmt.Errorf("%w: sensor type is required", ErrInvalidReading)
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx,
		"INSERT INTO sensor_readings (device_id, sensor_type, value, unit, recorded_at) VALUES (?, ?, ?, ?, ?)",
		reading.DeviceID,
		reading.SensorType,
		reading.Value,
		nullableStr(reading.Unit),
		reading.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting sensor reading: %w", err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		reading.ID = id
	}

	return nil
}

// ListByDevice returns recent readings for a device, ordered newest first.
//
// The sensorType filter is optional; an empty string matches all sensors.
// The limit defaults to 50 and is clamped at 500.
func (r *SQLiteSensorReadingRepository) ListByDevice(ctx context.Context, deviceID, sensorType string, limit int) ([]SensorReading, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidReading)
	}
	if limit <= 0 {
		limit = defaultReadingLimit
	}
	if limit > maxReadingLimit {
		limit = maxReadingLimit
	}

	query := `SELECT id, device_id, sensor_type, value, unit, recorded_at
		 FROM sensor_readings
		 WHERE device_id = ?`
	args := []any{deviceID}
	if sensorType != "" {
		query += " AND sensor_type = ?"
		args = append(args, sensorType)
	}
	query += " ORDER BY recorded_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sensor readings: %w", err)
	}
	defer rows.Close()

	readings := make([]SensorReading, 0, limit)
	for rows.Next() {
		var reading SensorReading
		var unit sql.NullString
		var recordedAt string

		if err := rows.Scan(&reading.ID, &reading.DeviceID, &reading.SensorType, &reading.Value, &unit, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning sensor reading: %w", err)
		}

		if unit.Valid {
			reading.Unit = unit.String
		}

		timestamp, err := parseReadingTimestamp(recordedAt)
		if err != nil {
			return nil, err
		}
		reading.Timestamp = timestamp

		readings = append(readings, reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sensor readings: %w", err)
	}

	return readings, nil
}

// Prune deletes readings older than the given duration.
func (r *SQLiteSensorReadingRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM sensor_readings WHERE recorded_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting sensor readings: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// parseReadingTimestamp parses a timestamp stored in SQLite.
func parseReadingTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("recorded_at is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing recorded_at: %w", err)
}
