package api

import (
	"net/http"
	"testing"

	"github.com/sprchuoi/Smart-Server/internal/infrastructure/config"
)

func TestHandlePublishFirmware(t *testing.T) {
	ts := newTestServer(t, config.SecurityConfig{})

	rec, body := ts.doJSON(t, http.MethodPost, "/api/v1/firmware",
		`{"device_type":"esp32","version":"1.2.0","url":"https://updates.example.com/esp32-1.2.0.bin","checksum":"abc123"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", rec.Code, body)
	}
	if body["version"] != "1.2.0" {
		t.Errorf("expected version 1.2.0, got %v", body["version"])
	}

	rec, _ = ts.doJSON(t, http.MethodPost, "/api/v1/firmware",
		`{"device_type":"esp32","version":"not-semver","url":"https://updates.example.com/x.bin"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad version, got %d", rec.Code)
	}

	rec, _ = ts.doJSON(t, http.MethodPost, "/api/v1/firmware",
		`{"device_type":"","version":"1.0.0","url":"https://updates.example.com/x.bin"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing device type, got %d", rec.Code)
	}
}

func TestHandleListFirmware(t *testing.T) {
	ts := newTestServer(t, config.SecurityConfig{})

	for _, version := range []string{"1.0.0", "1.2.0"} {
		rec, _ := ts.doJSON(t, http.MethodPost, "/api/v1/firmware",
			`{"device_type":"esp32","version":"`+version+`","url":"https://updates.example.com/esp32-`+version+`.bin"}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("publishing %s failed with %d", version, rec.Code)
		}
	}

	rec, body := ts.doJSON(t, http.MethodGet, "/api/v1/firmware?device_type=esp32", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", rec.Code, body)
	}
	if body["count"] != float64(2) {
		t.Errorf("expected 2 firmware entries, got %v", body["count"])
	}

	rec, _ = ts.doJSON(t, http.MethodGet, "/api/v1/firmware", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without device_type, got %d", rec.Code)
	}
}

func TestHandleCheckUpdate(t *testing.T) {
	ts := newTestServer(t, config.SecurityConfig{})
	seedDevice(t, ts, "esp32-kitchen", map[string]any{
		"status": "online", "type": "esp32", "firmware_version": "1.0.0",
	})

	ts.doJSON(t, http.MethodPost, "/api/v1/firmware",
		`{"device_type":"esp32","version":"1.2.0","url":"https://updates.example.com/esp32-1.2.0.bin"}`)

	rec, body := ts.doJSON(t, http.MethodGet, "/api/v1/devices/esp32-kitchen/ota", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", rec.Code, body)
	}
	if body["available"] != true {
		t.Errorf("expected available update, got %v", body["available"])
	}
	if body["target_version"] != "1.2.0" {
		t.Errorf("expected target 1.2.0, got %v", body["target_version"])
	}

	rec, _ = ts.doJSON(t, http.MethodGet, "/api/v1/devices/ghost/ota", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown device, got %d", rec.Code)
	}
}

func TestHandleStartUpdate(t *testing.T) {
	ts := newTestServer(t, config.SecurityConfig{})
	seedDevice(t, ts, "esp32-kitchen", map[string]any{
		"status": "online", "type": "esp32", "firmware_version": "1.0.0",
	})

	ts.doJSON(t, http.MethodPost, "/api/v1/firmware",
		`{"device_type":"esp32","version":"1.2.0","url":"https://updates.example.com/esp32-1.2.0.bin"}`)

	rec, body := ts.doJSON(t, http.MethodPost, "/api/v1/devices/esp32-kitchen/ota", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %v", rec.Code, body)
	}
	if body["correlation_id"] == nil {
		t.Error("expected correlation_id for dispatched update")
	}

	// The ota_update command was published
	if ts.publisher.count() != 1 {
		t.Errorf("expected 1 published command, got %d", ts.publisher.count())
	}
}

func TestHandleStartUpdate_UpToDate(t *testing.T) {
	ts := newTestServer(t, config.SecurityConfig{})
	seedDevice(t, ts, "esp32-kitchen", map[string]any{
		"status": "online", "type": "esp32", "firmware_version": "1.2.0",
	})

	ts.doJSON(t, http.MethodPost, "/api/v1/firmware",
		`{"device_type":"esp32","version":"1.2.0","url":"https://updates.example.com/esp32-1.2.0.bin"}`)

	rec, body := ts.doJSON(t, http.MethodPost, "/api/v1/devices/esp32-kitchen/ota", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", rec.Code, body)
	}
	if body["status"] != "up_to_date" {
		t.Errorf("expected up_to_date, got %v", body["status"])
	}
	if ts.publisher.count() != 0 {
		t.Errorf("expected no published command, got %d", ts.publisher.count())
	}
}

func TestFirmwareRoutes_WithoutManager(t *testing.T) {
	ts := newTestServer(t, config.SecurityConfig{})
	ts.server.ota = nil

	rec, _ := ts.doJSON(t, http.MethodGet, "/api/v1/firmware?device_type=esp32", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without OTA manager, got %d", rec.Code)
	}
}
