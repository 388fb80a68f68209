package device

import (
	"context"
	"time"
)

// SensorReadingRepository stores and retrieves sensor readings.
//
// Implementations must be thread-safe and use UTC timestamps.
type SensorReadingRepository interface {
	// Append records a sensor reading for a device.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - reading: Reading to persist (ID is assigned by the store)
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	Append(ctx context.Context, reading *SensorReading) error

	// ListByDevice returns recent readings for a device, newest first.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Unique device identifier
	//   - sensorType: Optional sensor type filter (empty matches all)
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []SensorReading: Ordered newest-first readings (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	ListByDevice(ctx context.Context, deviceID, sensorType string, limit int) ([]SensorReading, error)

	// Prune deletes readings older than the given duration.
	//
	// Returns the number of rows deleted.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
