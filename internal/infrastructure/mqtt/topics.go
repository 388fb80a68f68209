package mqtt

import "fmt"

// Topics provides builders for Smart Server MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// All device topics follow the fixed scheme devices publish and subscribe on:
//
//	{namespace}/devices/{device_id}/{channel}
//
// where channel is one of status, sensor/{type}, command, or response.
//
//	topics := mqtt.Topics{Namespace: "smartserver"}
//	cmdTopic := topics.DeviceCommand("light_1")
//	// Returns: "smartserver/devices/light_1/command"
type Topics struct {
	// Namespace is the leading topic segment, from mqtt.namespace in config.
	Namespace string
}

// DeviceStatus returns the topic a device publishes status payloads on.
//
// Example: smartserver/devices/light_1/status
func (t Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/devices/%s/status", t.Namespace, deviceID)
}

// DeviceSensor returns the topic a device publishes readings for one sensor on.
//
// Example: smartserver/devices/env_1/sensor/temperature
func (t Topics) DeviceSensor(deviceID, sensorType string) string {
	return fmt.Sprintf("%s/devices/%s/sensor/%s", t.Namespace, deviceID, sensorType)
}

// DeviceCommand returns the topic the bridge publishes commands to a device on.
//
// Example: smartserver/devices/light_1/command
func (t Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/devices/%s/command", t.Namespace, deviceID)
}

// DeviceResponse returns the topic a device publishes command responses on.
//
// Example: smartserver/devices/light_1/response
func (t Topics) DeviceResponse(deviceID string) string {
	return fmt.Sprintf("%s/devices/%s/response", t.Namespace, deviceID)
}

// SystemStatus returns the bridge's own status topic, used for the bridge
// LWT and graceful shutdown announcements.
//
// Example: smartserver/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.Namespace)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllDeviceStatus returns a pattern matching every device's status topic.
//
// Pattern: smartserver/devices/+/status
func (t Topics) AllDeviceStatus() string {
	return fmt.Sprintf("%s/devices/+/status", t.Namespace)
}

// AllDeviceSensors returns a pattern matching every device's sensor topics.
//
// Pattern: smartserver/devices/+/sensor/#
func (t Topics) AllDeviceSensors() string {
	return fmt.Sprintf("%s/devices/+/sensor/#", t.Namespace)
}

// AllDeviceResponses returns a pattern matching every device's response topic.
//
// Pattern: smartserver/devices/+/response
func (t Topics) AllDeviceResponses() string {
	return fmt.Sprintf("%s/devices/+/response", t.Namespace)
}

// AllDeviceTopics returns a pattern matching all device traffic.
// Use with caution - this receives ALL device messages including commands
// the bridge itself publishes.
//
// Pattern: smartserver/devices/#
func (t Topics) AllDeviceTopics() string {
	return fmt.Sprintf("%s/devices/#", t.Namespace)
}
