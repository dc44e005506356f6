// Package api implements the HTTP status API and WebSocket event stream.
//
// This package provides:
//   - Read-only views of the dispatch engine (stats, outstanding IRPs,
//     open contexts) and of the completion journal
//   - A cancel endpoint running the device's reset sweep
//   - A WebSocket hub broadcasting "irp.completed" events
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// The server binds to localhost by default and carries no authentication;
// put it behind a reverse proxy before exposing it.
//
// # Graceful Degradation
//
// MQTT, the bridge and the journal are optional. Endpoints that depend on
// a missing component answer 503; everything else keeps working.
package api
