package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drainwatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drainwatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Telemetry ingest metrics
	TelemetryMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drainwatch_telemetry_messages_total",
			Help: "Total number of telemetry messages received",
		},
		[]string{"status"}, // status: accepted, rejected, dead_letter
	)

	TelemetryDecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drainwatch_telemetry_decode_errors_total",
			Help: "Total number of undecodable telemetry payloads",
		},
	)

	ReadingsPersistedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drainwatch_readings_persisted_total",
			Help: "Total number of sensor readings persisted",
		},
	)

	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drainwatch_evaluations_total",
			Help: "Total number of threshold evaluations by resulting severity",
		},
		[]string{"severity"},
	)

	IngestQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "drainwatch_ingest_queue_size",
			Help: "Current number of queued telemetry messages across shards",
		},
	)

	// Alert metrics
	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drainwatch_alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"alert_type", "alert_level"},
	)

	AlertTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drainwatch_alert_transitions_total",
			Help: "Total number of alert status transitions",
		},
		[]string{"status"},
	)

	DispatchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drainwatch_dispatch_attempts_total",
			Help: "Total number of worker dispatch attempts",
		},
		[]string{"outcome"}, // outcome: assigned, no_worker, failed
	)

	// Kafka producer metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drainwatch_kafka_publish_total",
			Help: "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drainwatch_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	DeadLettersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drainwatch_dead_letters_total",
			Help: "Total number of payloads routed to the dead-letter topic",
		},
	)

	// WebSocket metrics
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "drainwatch_websocket_clients",
			Help: "Current number of connected dashboard clients",
		},
	)

	// Retention metrics
	ReadingsPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drainwatch_readings_purged_total",
			Help: "Total number of readings removed by the retention sweeper",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drainwatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
