package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSensorReading writes a single sensor reading to InfluxDB.
//
// This mirrors the authoritative SQLite reading history for dashboard
// charting. The write is non-blocking; data is batched and sent
// asynchronously.
//
// Parameters:
//   - deviceID: Unique identifier for the device (e.g., "env_1")
//   - sensorType: The sensor channel name (e.g., "temperature", "humidity")
//   - value: The numeric value to record
//   - unit: Unit string from the payload, empty if the device omitted it
//   - at: Time the reading was received
//
// Example:
//
//	client.WriteSensorReading("env_1", "temperature", 21.5, "C", time.Now())
func (c *Client) WriteSensorReading(deviceID, sensorType string, value float64, unit string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"device_id": deviceID,
		"sensor":    sensorType,
	}
	if unit != "" {
		tags["unit"] = unit
	}

	point := write.NewPoint(
		"sensor_readings",
		tags,
		map[string]interface{}{
			"value": value,
		},
		at,
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceStatus writes a device liveness transition.
//
// Status is encoded as a numeric field (online=1, offline=0, unknown=-1)
// so dashboards can graph availability over time.
func (c *Client) WriteDeviceStatus(deviceID, status string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	var value int64
	switch status {
	case "online":
		value = 1
	case "offline":
		value = 0
	default:
		value = -1
	}

	point := write.NewPoint(
		"device_status",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"value":  value,
			"status": status,
		},
		at,
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "bridge-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
