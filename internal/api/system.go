package api

import (
	"net/http"
	"time"
)

// handleSystemStatus returns a runtime snapshot of the bridge: device
// counts, in-flight commands, broker connectivity, and connected
// WebSocket observers.
func (s *Server) handleSystemStatus(w http.ResponseWriter, _ *http.Request) {
	mqttConnected := false
	if s.mqtt != nil {
		mqttConnected = s.mqtt.IsConnected()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"version":           s.version,
		"uptime_seconds":    int(time.Since(s.startedAt).Seconds()),
		"devices":           s.registry.GetStats(),
		"pending_commands":  s.dispatcher.PendingCount(),
		"mqtt_connected":    mqttConnected,
		"websocket_clients": s.hub.ClientCount(),
	})
}
