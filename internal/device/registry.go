package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by the mutating operations. All mutations are serialised through a
// single write mutex so state changes apply in receipt order; reads
// return deep copies so callers can never mutate cached state.
//
// All public methods are thread-safe.
type Registry struct {
	repo     Repository
	readings SensorReadingRepository
	cache    map[string]*Device // Cached devices by ID
	cacheMu  sync.RWMutex       // Protects cache
	writeMu  sync.Mutex         // Serialises all mutations
	logger   Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
// The readings repository may be nil when sensor persistence is disabled.
func NewRegistry(repo Repository, readings SensorReadingRepository) *Registry {
	return &Registry{
		repo:     repo,
		readings: readings,
		cache:    make(map[string]*Device),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	// Clear and rebuild cache with deep copies
	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ID] = d.DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// UpsertStatus applies a status announcement from a device.
//
// If the device does not exist it is created. Known payload fields
// (status, type, device_type, name, firmware_version) map onto the
// device record; everything else is merged into metadata, keeping
// keys the payload does not mention. The device is marked online
// unless the payload explicitly says offline (the broker's will
// message takes that path). LastSeen always advances to receivedAt.
//
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) UpsertStatus(ctx context.Context, deviceID string, payload map[string]any, receivedAt time.Time) (*Device, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return nil, err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	device, created, err := r.loadOrCreateLocked(ctx, deviceID, receivedAt)
	if err != nil {
		return nil, err
	}

	applyStatusPayload(device, payload)
	seen := receivedAt.UTC()
	device.LastSeen = &seen

	if err := ValidateMetadata(device.Metadata); err != nil {
		return nil, err
	}

	if created {
		if err := r.repo.Create(ctx, device); err != nil {
			return nil, err
		}
	} else {
		if err := r.repo.Update(ctx, device); err != nil {
			return nil, err
		}
	}

	r.storeInCache(device)

	if created {
		r.logger.Info("device registered", "id", deviceID, "status", device.Status)
	} else {
		r.logger.Debug("device status updated", "id", deviceID, "status", device.Status)
	}
	return device.DeepCopy(), nil
}

// RecordSensor stores a sensor reading for a device.
//
// If the device does not exist it is created with unknown status;
// sensor traffic alone never marks a device online. LastSeen is not
// advanced either, so a device that only reports readings can still
// go stale on its status channel.
func (r *Registry) RecordSensor(ctx context.Context, deviceID, sensorType string, value float64, unit string, at time.Time) error {
	if err := ValidateDeviceID(deviceID); err != nil {
		return err
	}
	if err := ValidateSensorType(sensorType); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	device, created, err := r.loadOrCreateLocked(ctx, deviceID, at)
	if err != nil {
		return err
	}

	if created {
		if err := r.repo.Create(ctx, device); err != nil {
			return err
		}
		r.storeInCache(device)
		r.logger.Info("device registered from sensor traffic", "id", deviceID, "sensor", sensorType)
	}

	if r.readings == nil {
		return nil
	}

	reading := &SensorReading{
		DeviceID:   deviceID,
		SensorType: sensorType,
		Value:      value,
		Unit:       unit,
		Timestamp:  at.UTC(),
	}
	if err := r.readings.Append(ctx, reading); err != nil {
		return fmt.Errorf("recording sensor reading: %w", err)
	}

	return nil
}

// MarkStale transitions online devices whose last announcement is older
// than the timeout to offline. It returns the IDs of devices that
// changed; devices already offline are left alone, so repeated sweeps
// over the same window are harmless.
func (r *Registry) MarkStale(ctx context.Context, now time.Time, timeout time.Duration) ([]string, error) {
	cutoff := now.UTC().Add(-timeout)

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.cacheMu.RLock()
	var candidates []string
	for id, d := range r.cache {
		if d.Status != StatusOnline {
			continue
		}
		if d.LastSeen == nil || d.LastSeen.Before(cutoff) {
			candidates = append(candidates, id)
		}
	}
	r.cacheMu.RUnlock()

	var transitioned []string
	for _, id := range candidates {
		// Status only: last_seen keeps the device's real last contact,
		// not the moment the sweep noticed it was gone.
		if err := r.repo.SetStatus(ctx, id, StatusOffline); err != nil {
			return transitioned, fmt.Errorf("marking device %s offline: %w", id, err)
		}

		r.cacheMu.Lock()
		if cached, ok := r.cache[id]; ok {
			updated := cached.DeepCopy()
			updated.Status = StatusOffline
			r.cache[id] = updated
		}
		r.cacheMu.Unlock()

		transitioned = append(transitioned, id)
		r.logger.Info("device marked offline after staleness sweep", "id", id, "timeout", timeout)
	}

	return transitioned, nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	// Try cache first
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		// Return a deep copy to prevent external mutation of cache
		return cached.DeepCopy(), nil
	}

	// Fall back to repository (might be a new device not yet cached)
	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Cache for future lookups (store a deep copy)
	r.cacheMu.Lock()
	r.cache[id] = device.DeepCopy()
	r.cacheMu.Unlock()

	return device, nil
}

// ListDevices retrieves all devices.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Return from cache if populated
	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			// Deep copy to prevent external mutation of cache
			devices = append(devices, *d.DeepCopy())
		}
		return devices, nil
	}

	// Fall back to repository
	return r.repo.List(ctx)
}

// GetDevicesByStatus retrieves all devices with a specific status.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) GetDevicesByStatus(ctx context.Context, status Status) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.Status == status {
				devices = append(devices, *d.DeepCopy())
			}
		}
		return devices, nil
	}

	return r.repo.ListByStatus(ctx, status)
}

// UpdateDevice updates the operator-editable fields of a device.
// It validates the device and persists the changes.
func (r *Registry) UpdateDevice(ctx context.Context, device *Device) error {
	if err := ValidateDeviceID(device.ID); err != nil {
		return err
	}
	if device.Name != "" {
		if err := ValidateName(device.Name); err != nil {
			return err
		}
	}
	if err := ValidateStatus(device.Status); err != nil {
		return err
	}
	if err := ValidateMetadata(device.Metadata); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.repo.Update(ctx, device); err != nil {
		return err
	}

	r.storeInCache(device)

	r.logger.Info("device updated", "id", device.ID, "name", device.Name)
	return nil
}

// DeleteDevice removes a device. Devices are never removed
// automatically; this is the only path out of the registry.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// SetFirmwareVersion records the firmware version a device reports
// after an update completes.
func (r *Registry) SetFirmwareVersion(ctx context.Context, id, version string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	device, err := r.loadLocked(ctx, id)
	if err != nil {
		return err
	}

	device.FirmwareVersion = version
	if err := r.repo.Update(ctx, device); err != nil {
		return err
	}

	r.storeInCache(device)

	r.logger.Info("device firmware version updated", "id", id, "version", version)
	return nil
}

// GetReadings returns recent sensor readings for a device, newest first.
func (r *Registry) GetReadings(ctx context.Context, deviceID, sensorType string, limit int) ([]SensorReading, error) {
	if r.readings == nil {
		return nil, nil
	}
	return r.readings.ListByDevice(ctx, deviceID, sensorType, limit)
}

// PruneReadings deletes sensor readings older than the given duration.
func (r *Registry) PruneReadings(ctx context.Context, olderThan time.Duration) (int64, error) {
	if r.readings == nil {
		return 0, nil
	}
	return r.readings.Prune(ctx, olderThan)
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int            `json:"total_devices"`
	ByStatus     map[Status]int `json:"by_status"`
	ByType       map[string]int `json:"by_type"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByStatus:     make(map[Status]int),
		ByType:       make(map[string]int),
	}

	for _, d := range r.cache {
		stats.ByStatus[d.Status]++
		if d.Type != "" {
			stats.ByType[d.Type]++
		}
	}

	return stats
}

// loadOrCreateLocked fetches a device or initialises a new record with
// unknown status. Callers must hold writeMu.
func (r *Registry) loadOrCreateLocked(ctx context.Context, id string, at time.Time) (*Device, bool, error) {
	device, err := r.loadLocked(ctx, id)
	if err == nil {
		return device, false, nil
	}
	if !errors.Is(err, ErrDeviceNotFound) {
		return nil, false, err
	}

	now := at.UTC()
	return &Device{
		ID:        id,
		Status:    StatusUnknown,
		Metadata:  Metadata{},
		CreatedAt: now,
		UpdatedAt: now,
	}, true, nil
}

// loadLocked fetches a mutable copy of a device, preferring the cache.
// Callers must hold writeMu.
func (r *Registry) loadLocked(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}
	return r.repo.GetByID(ctx, id)
}

// storeInCache replaces the cached entry with a deep copy.
func (r *Registry) storeInCache(device *Device) {
	r.cacheMu.Lock()
	r.cache[device.ID] = device.DeepCopy()
	r.cacheMu.Unlock()
}

// applyStatusPayload merges a status announcement into a device record.
func applyStatusPayload(device *Device, payload map[string]any) {
	device.Status = StatusOnline
	if device.Metadata == nil {
		device.Metadata = Metadata{}
	}

	for key, value := range payload {
		switch key {
		case "status":
			if s, ok := value.(string); ok && Status(s) == StatusOffline {
				device.Status = StatusOffline
			}
		case "type", "device_type":
			if s, ok := value.(string); ok && s != "" {
				device.Type = s
			}
		case "name":
			if s, ok := value.(string); ok && s != "" {
				device.Name = s
			}
		case "firmware_version":
			if s, ok := value.(string); ok && s != "" {
				device.FirmwareVersion = s
			}
		default:
			device.Metadata[key] = value
		}
	}
}
