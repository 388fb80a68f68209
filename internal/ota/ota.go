package ota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/sprchuoi/Smart-Server/internal/bridge"
	"github.com/sprchuoi/Smart-Server/internal/device"
)

// Sentinel errors for firmware operations.
var (
	ErrDisabled        = errors.New("ota: updates disabled")
	ErrNoFirmware      = errors.New("ota: no firmware registered for device type")
	ErrInvalidVersion  = errors.New("ota: invalid version")
	ErrInvalidFirmware = errors.New("ota: invalid firmware")
)

// Firmware is a published firmware image for a device type.
type Firmware struct {
	ID         int64     `json:"id"`
	DeviceType string    `json:"device_type"`
	Version    string    `json:"version"`
	URL        string    `json:"url"`
	Checksum   string    `json:"checksum,omitempty"`
	ReleasedAt time.Time `json:"released_at"`
}

// Update describes whether a device has a newer firmware available.
type Update struct {
	Available      bool   `json:"available"`
	CurrentVersion string `json:"current_version,omitempty"`
	TargetVersion  string `json:"target_version,omitempty"`
	URL            string `json:"url,omitempty"`
	Checksum       string `json:"checksum,omitempty"`
}

// Repository persists the firmware catalogue.
type Repository interface {
	// Publish registers a firmware image.
	Publish(ctx context.Context, firmware *Firmware) error

	// Latest returns the highest published version for a device type.
	// Returns ErrNoFirmware when none is registered.
	Latest(ctx context.Context, deviceType string) (*Firmware, error)

	// List returns all firmware for a device type, newest first.
	List(ctx context.Context, deviceType string) ([]Firmware, error)
}

// DeviceGetter fetches device records. Satisfied by *device.Registry.
type DeviceGetter interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
}

// CommandIssuer dispatches commands. Satisfied by *bridge.Dispatcher.
type CommandIssuer interface {
	Issue(ctx context.Context, deviceID, action string, params map[string]any, timeout time.Duration) (*bridge.Command, error)
}

// Logger is the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager drives firmware rollout: it compares a device's reported
// version against the catalogue and pushes updates as ota_update
// commands through the dispatcher.
type Manager struct {
	repo       Repository
	devices    DeviceGetter
	dispatcher CommandIssuer
	enabled    bool
	logger     Logger
}

// NewManager creates an OTA manager. When enabled is false every
// operation short-circuits with ErrDisabled.
func NewManager(repo Repository, devices DeviceGetter, dispatcher CommandIssuer, enabled bool) *Manager {
	return &Manager{
		repo:       repo,
		devices:    devices,
		dispatcher: dispatcher,
		enabled:    enabled,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// PublishFirmware validates and registers a firmware image.
func (m *Manager) PublishFirmware(ctx context.Context, firmware *Firmware) error {
	if !m.enabled {
		return ErrDisabled
	}
	if firmware == nil || firmware.DeviceType == "" {
		return fmt.Errorf("%w: device type is required", ErrInvalidFirmware)
	}
	if firmware.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidFirmware)
	}
	if _, err := semver.NewVersion(firmware.Version); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidVersion, firmware.Version, err)
	}

	if err := m.repo.Publish(ctx, firmware); err != nil {
		return err
	}

	m.logger.Info("firmware published",
		"device_type", firmware.DeviceType, "version", firmware.Version)
	return nil
}

// ListFirmware returns the published firmware for a device type,
// newest first.
func (m *Manager) ListFirmware(ctx context.Context, deviceType string) ([]Firmware, error) {
	if !m.enabled {
		return nil, ErrDisabled
	}
	if deviceType == "" {
		return nil, fmt.Errorf("%w: device type is required", ErrInvalidFirmware)
	}
	return m.repo.List(ctx, deviceType)
}

// CheckUpdate reports whether a newer firmware exists for a device.
//
// A device that has never reported a version is always considered
// updatable (any published firmware beats no information).
func (m *Manager) CheckUpdate(ctx context.Context, deviceID string) (*Update, error) {
	if !m.enabled {
		return nil, ErrDisabled
	}

	dev, err := m.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if dev.Type == "" {
		return nil, fmt.Errorf("%w: device %s has no type", ErrNoFirmware, deviceID)
	}

	latest, err := m.repo.Latest(ctx, dev.Type)
	if err != nil {
		return nil, err
	}

	update := &Update{
		CurrentVersion: dev.FirmwareVersion,
		TargetVersion:  latest.Version,
		URL:            latest.URL,
		Checksum:       latest.Checksum,
	}

	if dev.FirmwareVersion == "" {
		update.Available = true
		return update, nil
	}

	current, err := semver.NewVersion(dev.FirmwareVersion)
	if err != nil {
		// A device reporting garbage still gets the fix offered.
		m.logger.Warn("device reports unparseable firmware version",
			"device_id", deviceID, "version", dev.FirmwareVersion)
		update.Available = true
		return update, nil
	}
	target, err := semver.NewVersion(latest.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: catalogue version %q: %v", ErrInvalidVersion, latest.Version, err)
	}

	update.Available = current.LessThan(target)
	return update, nil
}

// StartUpdate pushes an ota_update command to the device if a newer
// firmware is available. Returns the in-flight command; the caller
// decides whether to wait on it.
func (m *Manager) StartUpdate(ctx context.Context, deviceID string, timeout time.Duration) (*bridge.Command, *Update, error) {
	update, err := m.CheckUpdate(ctx, deviceID)
	if err != nil {
		return nil, nil, err
	}
	if !update.Available {
		return nil, update, nil
	}

	cmd, err := m.dispatcher.Issue(ctx, deviceID, "ota_update", map[string]any{
		"version":  update.TargetVersion,
		"url":      update.URL,
		"checksum": update.Checksum,
	}, timeout)
	if err != nil {
		return nil, nil, err
	}

	m.logger.Info("firmware update dispatched",
		"device_id", deviceID,
		"from", update.CurrentVersion,
		"to", update.TargetVersion,
		"correlation_id", cmd.CorrelationID)
	return cmd, update, nil
}
