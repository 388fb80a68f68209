package device

import "time"

// Device represents one member of the self-describing fleet.
//
// Devices are never pre-provisioned: the first message received for an
// unseen device_id creates the row. The ID is whatever the device put in
// its topic, so it is globally unique by construction of the topic tree.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`

	// Classification. Open string, taken from the status payload's
	// "type"/"device_type" field. Empty until the device reports one.
	Type string `json:"type,omitempty"`

	// Liveness
	Status   Status     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// Metadata is the merged key-value map from status payloads
	// (ip, rssi, and whatever else the firmware reports).
	Metadata Metadata `json:"metadata,omitempty"`

	// FirmwareVersion as last reported, empty if the device never sent one.
	FirmwareVersion string `json:"firmware_version,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates a complete independent copy of the Device.
// All map fields are cloned so modifications to the copy do not affect
// the original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields

	// Deep copy the metadata map
	cpy.Metadata = deepCopyMap(d.Metadata)

	// Pointer fields (*time.Time) don't need deep copy because
	// time.Time is immutable in Go

	return &cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// Primitives (string, bool, int, float64, etc.) are safe to copy by value
		return v
	}
}

// Metadata holds the open key-value map merged from status payloads.
//
// Examples:
//   - ESP32 relay: {"ip": "192.168.1.40", "rssi": -61}
//   - Weather node: {"ip": "192.168.1.52", "rssi": -74, "battery": 87}
type Metadata map[string]any

// Status represents device liveness as derived by the bridge.
//
// A device only ever becomes offline through an explicit mechanism:
// an LWT status payload or the staleness sweep. Silence alone is never
// interpreted as offline on the ingest path.
type Status string

// Status constants.
const (
	// StatusUnknown is the initial state for devices created implicitly
	// by sensor traffic. Sensor messages alone do not imply liveness.
	StatusUnknown Status = "unknown"

	// StatusOnline means the device has published a status payload and
	// has not gone stale since.
	StatusOnline Status = "online"

	// StatusOffline means the broker delivered the device's LWT, the
	// device announced a shutdown, or the staleness sweep expired it.
	StatusOffline Status = "offline"
)

// AllStatuses returns all valid status values.
func AllStatuses() []Status {
	return []Status{StatusUnknown, StatusOnline, StatusOffline}
}

// Valid reports whether s is a recognised status value.
func (s Status) Valid() bool {
	switch s {
	case StatusUnknown, StatusOnline, StatusOffline:
		return true
	default:
		return false
	}
}

// SensorReading is one append-only time-series sample from a device.
//
// Readings are immutable once recorded; ordering is by timestamp within
// (device_id, sensor_type).
type SensorReading struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	SensorType string    `json:"sensor_type"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
