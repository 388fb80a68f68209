package bridge

import "time"

// EventType classifies a fan-out event.
type EventType string

// Event types emitted by the bridge.
const (
	EventDeviceStatus   EventType = "device_status"
	EventSensorReading  EventType = "sensor_reading"
	EventCommandResult  EventType = "command_result"
	EventCommandTimeout EventType = "command_timeout"
)

// Event is a single notification pushed to observers after a
// successful state mutation. Exactly one event is emitted per applied
// message; failed or dropped messages emit nothing.
type Event struct {
	Type      EventType      `json:"type"`
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// EventPublisher delivers events to observers. Implementations must
// never block: a slow observer is the observer's problem, not the
// ingest path's.
type EventPublisher interface {
	PublishEvent(event Event)
}

// noopPublisher discards events.
type noopPublisher struct{}

func (noopPublisher) PublishEvent(Event) {}
