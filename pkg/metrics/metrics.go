package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway metrics
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "travelchat_gateway_connected_clients",
			Help: "Websocket connections currently open",
		},
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "travelchat_gateway_events_received_total",
			Help: "Events received from clients",
		},
		[]string{"event"},
	)

	MessagesFannedOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "travelchat_gateway_messages_fanned_out_total",
			Help: "receive-message events delivered to connections",
		},
	)

	HistoryErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "travelchat_gateway_history_errors_total",
			Help: "History requests answered with chat-history-error",
		},
	)

	// API metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "travelchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// Messaging metrics
	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "travelchat_messages_persisted_total",
			Help: "Messages consumed from Kafka, by outcome",
		},
		[]string{"outcome"},
	)
)
