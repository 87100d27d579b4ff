package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hub Metrics
var (
	// HubConnectedClients tracks the number of currently connected WebSocket clients
	HubConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_connected_clients",
			Help: "Number of currently connected WebSocket clients",
		},
	)

	// HubBroadcastsTotal tracks total broadcasts fanned out to clients
	HubBroadcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_broadcasts_total",
			Help: "Total broadcast messages fanned out to clients",
		},
	)

	// HubBroadcastDropped tracks broadcasts dropped because the command channel was full
	HubBroadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_broadcast_dropped_total",
			Help: "Broadcast messages dropped due to a saturated command channel",
		},
	)

	// HubSlowClientsEvicted tracks clients evicted because their outbound queue was full
	HubSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_slow_clients_evicted_total",
			Help: "Clients evicted because their outbound queue was full",
		},
	)

	// HubMarshalErrors tracks broadcast payloads that could not be encoded
	HubMarshalErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_marshal_errors_total",
			Help: "Broadcast payloads dropped because JSON encoding failed",
		},
	)
)

// Batch Accumulator Metrics
var (
	// BatchFlushesTotal tracks accumulator flushes by trigger (size/window/shutdown/manual)
	BatchFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_flushes_total",
			Help: "Batch accumulator flushes by trigger",
		},
		[]string{"trigger"},
	)

	// BatchSize tracks the number of messages per flushed batch
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batch_size_messages",
			Help:    "Number of messages per flushed batch",
			Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20},
		},
	)
)

// WebSocket Metrics
var (
	// WebSocketMessageSendDuration tracks time spent writing a frame to a peer
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "Time spent writing a message frame to a WebSocket peer",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	// WebSocketPingFailures tracks failed liveness probes
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Total failed WebSocket ping writes",
		},
	)

	// WebSocketOriginRejected tracks upgrade requests rejected by origin validation
	WebSocketOriginRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_origin_rejected_total",
			Help: "Upgrade requests rejected by origin validation",
		},
	)
)

// Connection Limit Metrics
var (
	// ConnectionLimitRejections tracks upgrade requests rejected by connection limits
	ConnectionLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connection_limit_rejections_total",
			Help: "Upgrade requests rejected by connection limits, by reason",
		},
		[]string{"reason"},
	)
)
