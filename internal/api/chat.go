package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sprchuoi/Smart-Server/internal/bridge"
	"github.com/sprchuoi/Smart-Server/internal/device"
	"github.com/sprchuoi/Smart-Server/internal/intent"
)

// chatReadingsLimit bounds how many readings a report reply includes.
const chatReadingsLimit = 5

// chatRequest is the body for POST /chat.
type chatRequest struct {
	Text string `json:"text"`
}

// handleChat resolves a free-text instruction into an intent and acts
// on it: command actions are dispatched through the regular pipeline,
// queries are answered from the registry.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.intent == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "intent resolution is not enabled")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeBadRequest(w, "text field is required")
		return
	}

	resolved, err := s.intent.Resolve(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, intent.ErrNoMatch) {
			writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, "could not understand the instruction")
			return
		}
		writeInternalError(w, "failed to resolve intent")
		return
	}

	switch resolved.Action {
	case intent.ActionTurnOn, intent.ActionTurnOff:
		s.chatDispatch(w, r, resolved)
	case intent.ActionStatus:
		s.chatStatus(w, r, resolved)
	case intent.ActionReport:
		s.chatReport(w, r, resolved)
	default:
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, "unsupported action: "+resolved.Action)
	}
}

// chatDispatch issues the resolved command and returns the correlation id.
func (s *Server) chatDispatch(w http.ResponseWriter, r *http.Request, resolved intent.Intent) {
	cmd, err := s.dispatcher.Issue(r.Context(), resolved.DeviceID, resolved.Action, resolved.Parameters, 0)
	if err != nil {
		if errors.Is(err, bridge.ErrInvalidCommand) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("chat command dispatch failed", "device_id", resolved.DeviceID, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeInternal, "failed to publish command")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"intent":         resolved,
		"correlation_id": cmd.CorrelationID,
		"status":         string(bridge.CommandPending),
	})
}

// chatStatus answers a liveness query for one device or the fleet.
func (s *Server) chatStatus(w http.ResponseWriter, r *http.Request, resolved intent.Intent) {
	if resolved.DeviceID == "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"intent": resolved,
			"stats":  s.registry.GetStats(),
		})
		return
	}

	dev, err := s.registry.GetDevice(r.Context(), resolved.DeviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"intent": resolved,
		"device": dev,
	})
}

// chatReport answers a sensor query with the most recent readings.
func (s *Server) chatReport(w http.ResponseWriter, r *http.Request, resolved intent.Intent) {
	if resolved.DeviceID == "" {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, "could not tell which device to report on")
		return
	}

	sensorType, _ := resolved.Parameters["sensor_type"].(string) //nolint:errcheck // empty string means no filter

	readings, err := s.registry.GetReadings(r.Context(), resolved.DeviceID, sensorType, chatReadingsLimit)
	if err != nil {
		writeInternalError(w, "failed to fetch readings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"intent":   resolved,
		"readings": readings,
		"count":    len(readings),
	})
}
