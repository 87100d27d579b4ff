// Package server exposes the HTTP surface: the WebSocket upgrade endpoint
// guarded by origin validation and connection limits, plus health, version,
// and Prometheus metrics routes.
package server
