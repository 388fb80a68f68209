package bridge

import (
	"fmt"
	"strings"
)

// Channel identifies the purpose of a device topic.
type Channel string

// Recognised device channels.
const (
	ChannelStatus   Channel = "status"
	ChannelSensor   Channel = "sensor"
	ChannelCommand  Channel = "command"
	ChannelResponse Channel = "response"
)

// Route is the decomposed form of a device topic.
//
// Topics follow <namespace>/devices/<device_id>/<channel>, with sensor
// channels carrying a trailing sensor type: .../sensor/temperature.
type Route struct {
	Namespace string
	DeviceID  string
	Channel   Channel

	// SensorType is set only for sensor channels. Nested types keep
	// their slashes ("air/quality").
	SensorType string
}

// ParseTopic splits a raw topic into a Route.
//
// Structural problems (too few segments, empty segments, a literal
// other than "devices" in the second slot) return ErrUnroutable. An
// unrecognised channel parses successfully; callers decide whether to
// drop it, so a future channel does not look like a corrupt topic.
func ParseTopic(topic string) (Route, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 {
		return Route{}, fmt.Errorf("%w: %q has %d segments, need at least 4", ErrUnroutable, topic, len(parts))
	}

	namespace, collection, deviceID := parts[0], parts[1], parts[2]
	if namespace == "" {
		return Route{}, fmt.Errorf("%w: %q has empty namespace", ErrUnroutable, topic)
	}
	if collection != "devices" {
		return Route{}, fmt.Errorf("%w: %q is not a device topic", ErrUnroutable, topic)
	}
	if deviceID == "" {
		return Route{}, fmt.Errorf("%w: %q has empty device id", ErrUnroutable, topic)
	}

	channel := parts[3]
	if channel == "" {
		return Route{}, fmt.Errorf("%w: %q has empty channel", ErrUnroutable, topic)
	}

	route := Route{
		Namespace: namespace,
		DeviceID:  deviceID,
		Channel:   Channel(channel),
	}

	if route.Channel == ChannelSensor {
		sensorType := strings.Join(parts[4:], "/")
		if sensorType == "" || strings.Contains(sensorType, "//") ||
			strings.HasPrefix(sensorType, "/") || strings.HasSuffix(sensorType, "/") {
			return Route{}, fmt.Errorf("%w: %q has invalid sensor type", ErrUnroutable, topic)
		}
		route.SensorType = sensorType
		return route, nil
	}

	// Non-sensor channels take no trailing segments.
	if len(parts) > 4 {
		return Route{}, fmt.Errorf("%w: %q has trailing segments after channel", ErrUnroutable, topic)
	}

	return route, nil
}
