// Package api implements the HTTP REST API and WebSocket server for Smart Server.
//
// This package provides:
//   - REST endpoints for device reads, updates, readings, and command dispatch
//   - WebSocket hub fanning bridge events out to subscribed observers
//   - API-key-to-JWT token exchange for deployments that enable security
//   - Middleware stack (request ID, logging, recovery, CORS, body limits)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits between user interfaces (dashboards, mobile apps)
// and the device registry + MQTT bus. Commands flow from the API through
// the dispatcher to devices via MQTT, and device traffic flows back
// through the ingest pipeline as events, which the hub broadcasts to
// WebSocket clients.
//
// # Event channels
//
// WebSocket clients subscribe to channels: "all" for everything,
// "device:*" for any device event, "device:<id>" for one device, or
// "sensor:<id>" for one device's sensor readings only.
// Delivery is best-effort per client; a slow consumer loses events
// rather than stalling the ingest path.
//
// # Graceful Degradation
//
// Routes degrade independently: command history without an audit store,
// firmware routes without the OTA manager, and chat without a resolver
// each answer 503 while the rest of the surface keeps working.
package api
