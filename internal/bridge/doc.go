// Package bridge connects the MQTT device fleet to the rest of Smart
// Server. It owns the three traffic directions:
//
//   - Ingest: status announcements and sensor readings arriving from
//     devices are routed, decoded, and applied to the device registry.
//     One event fans out per applied message.
//   - Dispatch: commands go out with a UUID correlation id and a
//     per-command timeout; responses are matched back by that id.
//   - Liveness: a periodic sweep marks silent devices offline.
//
// Topic shape is <namespace>/devices/<device_id>/<channel> where the
// channel is status, sensor/<type>, command, or response.
//
// Bad input never stops the worker: malformed payloads and unroutable
// topics are logged and dropped. The one fatal condition is registry
// contention, surfaced through the ingestor's fatal callback.
package bridge
