package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the bridge schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			name TEXT,
			type TEXT,
			status TEXT NOT NULL DEFAULT 'unknown',
			last_seen TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			firmware_version TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE INDEX idx_devices_status ON devices(status);

		CREATE TABLE sensor_readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			sensor_type TEXT NOT NULL,
			value REAL NOT NULL,
			unit TEXT,
			recorded_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE INDEX idx_sensor_readings_device ON sensor_readings(device_id, recorded_at);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// repoTestDevice creates a device for repository tests.
func repoTestDevice(id, name string) *Device {
	now := time.Now().UTC().Truncate(time.Second)
	seen := now
	return &Device{
		ID:              id,
		Name:            name,
		Type:            "sensor",
		Status:          StatusOnline,
		LastSeen:        &seen,
		Metadata:        Metadata{"ip": "10.0.0.5"},
		FirmwareVersion: "1.0.0",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	device := repoTestDevice("dev-1", "Test Device")
	if err := repo.Create(ctx, device); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if got.ID != "dev-1" {
		t.Errorf("ID = %q, want %q", got.ID, "dev-1")
	}
	if got.Name != "Test Device" {
		t.Errorf("Name = %q, want %q", got.Name, "Test Device")
	}
	if got.Status != StatusOnline {
		t.Errorf("Status = %q, want %q", got.Status, StatusOnline)
	}
	if got.Metadata["ip"] != "10.0.0.5" {
		t.Errorf("Metadata[ip] = %v, want 10.0.0.5", got.Metadata["ip"])
	}
	if got.LastSeen == nil {
		t.Error("LastSeen is nil, want set")
	}
}

func TestSQLiteRepository_CreateDuplicate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	device := repoTestDevice("dev-dup", "First")
	if err := repo.Create(ctx, device); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err := repo.Create(ctx, repoTestDevice("dev-dup", "Second"))
	if !errors.Is(err, ErrDeviceExists) {
		t.Errorf("Create() duplicate error = %v, want ErrDeviceExists", err)
	}
}

func TestSQLiteRepository_GetMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_Update(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	device := repoTestDevice("dev-upd", "Before")
	if err := repo.Create(ctx, device); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	device.Name = "After"
	device.Metadata["zone"] = "garage"
	if err := repo.Update(ctx, device); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "dev-upd")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "After" {
		t.Errorf("Name = %q, want %q", got.Name, "After")
	}
	if got.Metadata["zone"] != "garage" {
		t.Errorf("Metadata[zone] = %v, want garage", got.Metadata["zone"])
	}

	err = repo.Update(ctx, repoTestDevice("missing", "Ghost"))
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Update() missing error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, repoTestDevice("dev-del", "Doomed")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.Delete(ctx, "dev-del"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := repo.GetByID(ctx, "dev-del"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrDeviceNotFound", err)
	}

	if err := repo.Delete(ctx, "dev-del"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second Delete() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_SetStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	seen := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Second)
	device := repoTestDevice("dev-st", "Device")
	device.LastSeen = &seen
	if err := repo.Create(ctx, device); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.SetStatus(ctx, "dev-st", StatusOffline); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "dev-st")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusOffline {
		t.Errorf("Status = %q, want %q", got.Status, StatusOffline)
	}
	if got.LastSeen == nil || !got.LastSeen.Equal(seen) {
		t.Errorf("LastSeen = %v, want last contact %v untouched", got.LastSeen, seen)
	}

	err = repo.SetStatus(ctx, "missing", StatusOffline)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetStatus() missing error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_ListByStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	online := repoTestDevice("dev-on", "Online")
	offline := repoTestDevice("dev-off", "Offline")
	offline.Status = StatusOffline

	for _, d := range []*Device{online, offline} {
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create(%s) error = %v", d.ID, err)
		}
	}

	got, err := repo.ListByStatus(ctx, StatusOffline)
	if err != nil {
		t.Fatalf("ListByStatus() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "dev-off" {
		t.Errorf("ListByStatus(offline) = %v, want [dev-off]", got)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List() returned %d devices, want 2", len(all))
	}
}

func TestSQLiteSensorReadingRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteSensorReadingRepository(db)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		reading := &SensorReading{
			DeviceID:   "dev-r",
			SensorType: "temperature",
			Value:      20.0 + float64(i),
			Unit:       "C",
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Append(ctx, reading); err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
		if reading.ID == 0 {
			t.Errorf("Append(%d) did not assign an ID", i)
		}
	}
	other := &SensorReading{DeviceID: "dev-r", SensorType: "humidity", Value: 55, Unit: "%", Timestamp: base}
	if err := repo.Append(ctx, other); err != nil {
		t.Fatalf("Append(humidity) error = %v", err)
	}

	t.Run("lists newest first", func(t *testing.T) {
		got, err := repo.ListByDevice(ctx, "dev-r", "temperature", 10)
		if err != nil {
			t.Fatalf("ListByDevice() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("len = %d, want 3", len(got))
		}
		if got[0].Value != 22.0 {
			t.Errorf("got[0].Value = %v, want 22 (newest first)", got[0].Value)
		}
	})

	t.Run("filters by sensor type", func(t *testing.T) {
		got, err := repo.ListByDevice(ctx, "dev-r", "humidity", 10)
		if err != nil {
			t.Fatalf("ListByDevice() error = %v", err)
		}
		if len(got) != 1 || got[0].Unit != "%" {
			t.Errorf("ListByDevice(humidity) = %v, want one %%-unit reading", got)
		}
	})

	t.Run("respects limit", func(t *testing.T) {
		got, err := repo.ListByDevice(ctx, "dev-r", "", 2)
		if err != nil {
			t.Fatalf("ListByDevice() error = %v", err)
		}
		if len(got) != 2 {
			t.Errorf("len = %d, want 2", len(got))
		}
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		if err := repo.Append(ctx, &SensorReading{SensorType: "temperature"}); !errors.Is(err, ErrInvalidReading) {
			t.Errorf("Append() without device id error = %v, want ErrInvalidReading", err)
		}
		if _, err := repo.ListByDevice(ctx, "", "", 1); !errors.Is(err, ErrInvalidReading) {
			t.Errorf("ListByDevice() without device id error = %v, want ErrInvalidReading", err)
		}
	})

	t.Run("prunes old readings", func(t *testing.T) {
		stale := &SensorReading{
			DeviceID:   "dev-r",
			SensorType: "temperature",
			Value:      1,
			Timestamp:  base.Add(-48 * time.Hour),
		}
		if err := repo.Append(ctx, stale); err != nil {
			t.Fatalf("Append(stale) error = %v", err)
		}

		pruned, err := repo.Prune(ctx, 24*time.Hour)
		if err != nil {
			t.Fatalf("Prune() error = %v", err)
		}
		if pruned != 1 {
			t.Errorf("Prune() = %d, want 1", pruned)
		}
	})
}
