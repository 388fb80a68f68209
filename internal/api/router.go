package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Token exchange (no auth required; the API key is the credential)
		r.Post("/auth/token", s.handleToken)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Device endpoints
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Get("/stats", s.handleDeviceStats)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Patch("/", s.handleUpdateDevice)
					r.Delete("/", s.handleDeleteDevice)
					r.Get("/readings", s.handleListReadings)

					r.Route("/commands", func(r chi.Router) {
						r.Get("/", s.handleListCommands)
						r.Post("/", s.handleIssueCommand)
						r.Get("/{correlationID}", s.handleGetCommand)
						r.Delete("/{correlationID}", s.handleCancelCommand)
					})

					r.Route("/ota", func(r chi.Router) {
						r.Get("/", s.handleCheckUpdate)
						r.Post("/", s.handleStartUpdate)
					})
				})
			})

			// Firmware catalogue
			r.Route("/firmware", func(r chi.Router) {
				r.Get("/", s.handleListFirmware)
				r.Post("/", s.handlePublishFirmware)
			})

			// Natural-language command entry point
			r.Post("/chat", s.handleChat)

			// System status
			r.Get("/system/status", s.handleSystemStatus)

			// WebSocket (auth via token query parameter, validated in handler)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
