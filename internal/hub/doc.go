// Package hub implements the real-time WebSocket fan-out core using the actor pattern.
//
// A single coordinator goroutine owns membership of the active client set and fans
// broadcasts out to per-connection write goroutines. Slow clients are evicted rather
// than throttled for. High-frequency events can be coalesced through the Accumulator
// before hitting the wire.
package hub
