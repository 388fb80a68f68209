package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sprchuoi/Smart-Server/internal/bridge"
	"github.com/sprchuoi/Smart-Server/internal/device"
	"github.com/sprchuoi/Smart-Server/internal/ota"
)

// otaCommandTimeout is how long a device gets to acknowledge an
// ota_update command. Flash-and-reboot cycles are slow, so this is
// deliberately longer than the dispatcher default.
const otaCommandTimeout = 120 * time.Second

// publishFirmwareRequest is the body for POST /firmware.
type publishFirmwareRequest struct {
	DeviceType string `json:"device_type"`
	Version    string `json:"version"`
	URL        string `json:"url"`
	Checksum   string `json:"checksum,omitempty"`
}

// handlePublishFirmware registers a firmware image in the catalogue.
func (s *Server) handlePublishFirmware(w http.ResponseWriter, r *http.Request) {
	if s.ota == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "firmware updates are not enabled")
		return
	}

	var req publishFirmwareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	firmware := &ota.Firmware{
		DeviceType: req.DeviceType,
		Version:    req.Version,
		URL:        req.URL,
		Checksum:   req.Checksum,
		ReleasedAt: time.Now().UTC(),
	}

	if err := s.ota.PublishFirmware(r.Context(), firmware); err != nil {
		switch {
		case errors.Is(err, ota.ErrDisabled):
			writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "firmware updates are not enabled")
		case errors.Is(err, ota.ErrInvalidFirmware), errors.Is(err, ota.ErrInvalidVersion):
			writeBadRequest(w, err.Error())
		default:
			writeInternalError(w, "failed to publish firmware")
		}
		return
	}

	writeJSON(w, http.StatusCreated, firmware)
}

// handleListFirmware returns the firmware catalogue for a device type.
//
// Query parameters:
//   - device_type: required; the device type to list firmware for
func (s *Server) handleListFirmware(w http.ResponseWriter, r *http.Request) {
	if s.ota == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "firmware updates are not enabled")
		return
	}

	deviceType := r.URL.Query().Get("device_type")
	if deviceType == "" {
		writeBadRequest(w, "device_type query parameter is required")
		return
	}

	images, err := s.ota.ListFirmware(r.Context(), deviceType)
	if err != nil {
		if errors.Is(err, ota.ErrDisabled) {
			writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "firmware updates are not enabled")
			return
		}
		writeInternalError(w, "failed to list firmware")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_type": deviceType,
		"firmware":    images,
		"count":       len(images),
	})
}

// handleCheckUpdate reports whether newer firmware exists for a device.
func (s *Server) handleCheckUpdate(w http.ResponseWriter, r *http.Request) {
	if s.ota == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "firmware updates are not enabled")
		return
	}

	id := chi.URLParam(r, "id")

	update, err := s.ota.CheckUpdate(r.Context(), id)
	if err != nil {
		s.writeOTAError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, update)
}

// handleStartUpdate pushes an ota_update command to a device.
func (s *Server) handleStartUpdate(w http.ResponseWriter, r *http.Request) {
	if s.ota == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "firmware updates are not enabled")
		return
	}

	id := chi.URLParam(r, "id")

	cmd, update, err := s.ota.StartUpdate(r.Context(), id, otaCommandTimeout)
	if err != nil {
		s.writeOTAError(w, err)
		return
	}

	if cmd == nil {
		// Already on the latest version; nothing was dispatched.
		writeJSON(w, http.StatusOK, map[string]any{
			"update": update,
			"status": "up_to_date",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"update":         update,
		"correlation_id": cmd.CorrelationID,
		"status":         string(bridge.CommandPending),
	})
}

// writeOTAError maps firmware errors onto HTTP responses.
func (s *Server) writeOTAError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ota.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "firmware updates are not enabled")
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, ota.ErrNoFirmware):
		writeNotFound(w, "no firmware registered for this device type")
	case errors.Is(err, bridge.ErrInvalidCommand):
		writeBadRequest(w, err.Error())
	default:
		writeInternalError(w, "firmware operation failed")
	}
}
