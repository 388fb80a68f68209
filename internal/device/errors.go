package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device with an ID that already exists.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidDeviceID is returned when a device ID is empty or malformed.
	ErrInvalidDeviceID = errors.New("device: invalid id")

	// ErrInvalidStatus is returned when a status value is not recognised.
	ErrInvalidStatus = errors.New("device: invalid status")

	// ErrInvalidSensorType is returned when a sensor type is empty or malformed.
	ErrInvalidSensorType = errors.New("device: invalid sensor type")

	// ErrInvalidReading is returned when a sensor reading fails validation.
	ErrInvalidReading = errors.New("device: invalid reading")
)
