package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sprchuoi/Smart-Server/internal/bridge"
	"github.com/sprchuoi/Smart-Server/internal/device"
)

// maxCommandWait caps how long a request may synchronously wait for a
// device response.
const maxCommandWait = 60 * time.Second

// commandRequest is the body for POST /devices/{id}/commands.
type commandRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
	Timeout int            `json:"timeout,omitempty"` // seconds; 0 uses the dispatcher default
}

// handleIssueCommand dispatches a command to a device.
//
// By default this is asynchronous: the command is published and the
// response is 202 Accepted with the correlation id. The outcome arrives
// via WebSocket as a command_result or command_timeout event.
//
// With ?wait=true the handler blocks until the command reaches a
// terminal state and returns the outcome inline.
func (s *Server) handleIssueCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Commands go to known devices only; sensor traffic can create
	// devices implicitly, the API cannot.
	if _, err := s.registry.GetDevice(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command field is required")
		return
	}
	if req.Timeout < 0 {
		writeBadRequest(w, "timeout must not be negative")
		return
	}

	timeout := time.Duration(req.Timeout) * time.Second
	cmd, err := s.dispatcher.Issue(r.Context(), id, req.Command, req.Params, timeout)
	if err != nil {
		if errors.Is(err, bridge.ErrInvalidCommand) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("command dispatch failed", "device_id", id, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeInternal, "failed to publish command")
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		s.waitForOutcome(r.Context(), w, cmd)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"correlation_id": cmd.CorrelationID,
		"device_id":      cmd.DeviceID,
		"command":        cmd.Action,
		"status":         string(bridge.CommandPending),
		"issued_at":      cmd.IssuedAt,
	})
}

// waitForOutcome blocks until the command terminates and writes the
// outcome. Every command terminates (response, timeout, or cancel), so
// the wait itself only needs a cap against absurd client timeouts.
func (s *Server) waitForOutcome(ctx context.Context, w http.ResponseWriter, cmd *bridge.Command) {
	waitCtx, cancel := context.WithTimeout(ctx, maxCommandWait)
	defer cancel()

	outcome, err := cmd.Wait(waitCtx)
	if err != nil {
		// Client went away or the cap fired; the command itself is still
		// in flight and will resolve through the dispatcher.
		writeError(w, http.StatusGatewayTimeout, ErrCodeInternal, "timed out waiting for command outcome")
		return
	}

	status := http.StatusOK
	if outcome.Status != bridge.CommandSuccess {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{
		"correlation_id": cmd.CorrelationID,
		"device_id":      cmd.DeviceID,
		"command":        cmd.Action,
		"status":         string(outcome.Status),
		"message":        outcome.Message,
	})
}

// handleCancelCommand abandons a pending command.
func (s *Server) handleCancelCommand(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlationID")

	if !s.dispatcher.Cancel(correlationID, "cancelled") {
		writeNotFound(w, "no pending command with that correlation id")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"correlation_id": correlationID,
		"status":         string(bridge.CommandFailed),
		"message":        "cancelled",
	})
}

// handleListCommands returns the recent command history for a device.
//
// Query parameters:
//   - limit: maximum rows to return
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "command history is not enabled")
		return
	}

	id := chi.URLParam(r, "id")

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := s.audit.ListByDevice(r.Context(), id, limit)
	if err != nil {
		if errors.Is(err, bridge.ErrInvalidCommand) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to list commands")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"commands":  records,
		"count":     len(records),
	})
}

// handleGetCommand returns the audit record for a single command.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "command history is not enabled")
		return
	}

	correlationID := chi.URLParam(r, "correlationID")

	record, err := s.audit.Get(r.Context(), correlationID)
	if err != nil {
		if errors.Is(err, bridge.ErrCommandNotFound) {
			writeNotFound(w, "command not found")
			return
		}
		if errors.Is(err, bridge.ErrInvalidCommand) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to load command")
		return
	}

	writeJSON(w, http.StatusOK, record)
}
