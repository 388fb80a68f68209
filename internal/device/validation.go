package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxDeviceIDLength   = 100
	maxNameLength       = 100
	maxSensorTypeLength = 64

	// Size limits for the metadata map to prevent DoS via memory
	// exhaustion. Firmware-reported metadata is attacker-controlled input.
	maxMetadataKeys   = 50
	maxStringValueLen = 1024

	// maxNestingDepth prevents stack overflow from deeply nested payloads.
	maxNestingDepth = 10
)

// ValidateDeviceID checks that an ID lifted from a topic segment is usable.
//
// IDs come from devices themselves, so the rules are deliberately loose:
// anything non-empty that fits in a single topic segment is accepted.
func ValidateDeviceID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidDeviceID)
	}
	if len(id) > maxDeviceIDLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidDeviceID, maxDeviceIDLength)
	}
	if strings.ContainsAny(id, "/#+") {
		return fmt.Errorf("%w: id contains topic wildcards or separators", ErrInvalidDeviceID)
	}
	return nil
}

// ValidateName checks a human-assigned device name.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidDevice)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}
	return nil
}

// ValidateSensorType checks a sensor channel suffix taken from a topic.
func ValidateSensorType(sensorType string) error {
	if sensorType == "" {
		return fmt.Errorf("%w: sensor type cannot be empty", ErrInvalidSensorType)
	}
	if len(sensorType) > maxSensorTypeLength {
		return fmt.Errorf("%w: sensor type exceeds %d characters", ErrInvalidSensorType, maxSensorTypeLength)
	}
	if strings.ContainsAny(sensorType, "#+") {
		return fmt.Errorf("%w: sensor type contains topic wildcards", ErrInvalidSensorType)
	}
	return nil
}

// ValidateStatus checks if a status is a recognised value.
func ValidateStatus(status Status) error {
	if status.Valid() {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
}

// ValidateMetadata checks metadata map size limits.
// This recursively validates nested maps and slices since the payload
// arrives straight off the wire.
func ValidateMetadata(m Metadata) error {
	if len(m) > maxMetadataKeys {
		return fmt.Errorf("%w: metadata exceeds max keys (%d)", ErrInvalidDevice, maxMetadataKeys)
	}
	return validateMapSizeRecursive(m, "metadata", 0)
}

// validateMapSizeRecursive recursively validates map values with depth tracking.
func validateMapSizeRecursive(m map[string]any, fieldName string, depth int) error {
	if depth > maxNestingDepth {
		return fmt.Errorf("%w: %s exceeds maximum nesting depth", ErrInvalidDevice, fieldName)
	}

	for k, v := range m {
		// Check key length
		if len(k) > maxStringValueLen {
			return fmt.Errorf("%w: %s key too long", ErrInvalidDevice, fieldName)
		}
		// Recursively validate values
		if err := validateValueSize(v, fieldName, depth); err != nil {
			return err
		}
	}
	return nil
}

// validateValueSize recursively validates a value's size.
func validateValueSize(v any, fieldName string, depth int) error {
	if v == nil {
		return nil
	}

	switch val := v.(type) {
	case string:
		if len(val) > maxStringValueLen {
			return fmt.Errorf("%w: %s string value too long", ErrInvalidDevice, fieldName)
		}
	case map[string]any:
		if len(val) > maxMetadataKeys {
			return fmt.Errorf("%w: %s nested map too large", ErrInvalidDevice, fieldName)
		}
		return validateMapSizeRecursive(val, fieldName, depth+1)
	case []any:
		if len(val) > maxMetadataKeys {
			return fmt.Errorf("%w: %s array too large", ErrInvalidDevice, fieldName)
		}
		for _, elem := range val {
			if err := validateValueSize(elem, fieldName, depth+1); err != nil {
				return err
			}
		}
	}
	// Primitives (bool, int, float64, etc.) are safe
	return nil
}

// GenerateID creates a new UUID. Used for correlation ids and anywhere a
// fresh opaque token is needed; device IDs themselves come from topics.
func GenerateID() string {
	return uuid.New().String()
}
