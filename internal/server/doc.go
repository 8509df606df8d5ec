// Package server implements the relay's HTTP and WebSocket surface.
//
// The implementation is organized into files for hub management, clients,
// origin checks, the pre-auth registration API, routing, and HTTP server
// lifecycle. Every accepted socket becomes a Client whose read pump feeds
// decoded events to the relay dispatcher and whose write pump drains frames
// queued by the session registry, group manager and router.
package server
