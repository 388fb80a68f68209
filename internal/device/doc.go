// Package device provides the device registry for Smart Server.
//
// The registry is the durable catalogue of every device the bridge has
// seen. Devices appear implicitly on their first MQTT message and only
// leave through an explicit delete; liveness is tracked via status
// announcements and a periodic staleness sweep.
//
// # Key Types
//
//   - Device: a bridged IoT device with status, metadata, and firmware info
//   - Status: liveness state (unknown, online, offline)
//   - SensorReading: a single measurement reported on a sensor channel
//
// # Usage
//
//	// Create repositories and the registry
//	repo := device.NewSQLiteRepository(db)
//	readings := device.NewSQLiteSensorReadingRepository(db)
//	registry := device.NewRegistry(repo, readings)
//	registry.SetLogger(log)
//
//	// Load devices into cache on startup
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	// Apply a status announcement
//	dev, err := registry.UpsertStatus(ctx, "esp32-kitchen", payload, time.Now())
//
//	// Record a sensor reading
//	err = registry.RecordSensor(ctx, "esp32-kitchen", "temperature", 21.5, "C", time.Now())
//
//	// Sweep for silent devices
//	stale, err := registry.MarkStale(ctx, time.Now(), 2*time.Minute)
//
// # Thread Safety
//
// The Registry is safe for concurrent use. All mutations are serialised
// through a single write mutex so updates apply in the order they were
// received; reads return deep copies of cached state.
package device
