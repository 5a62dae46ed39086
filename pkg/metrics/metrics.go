// Package metrics provides Prometheus metrics for the Trellis service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntityWritesTotal tracks entity mutations by operation and status
	EntityWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "entities",
			Name:      "writes_total",
			Help:      "Total number of entity writes by operation and status",
		},
		[]string{"operation", "status"},
	)

	// EventsEmittedTotal tracks events appended to the event log
	EventsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Total number of events appended to the event log",
		},
		[]string{"event_type"},
	)

	// EvaluationsTotal tracks property evaluations by outcome
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "computation",
			Name:      "evaluations_total",
			Help:      "Total number of computed property evaluations by outcome",
		},
		[]string{"status"},
	)

	// EvaluationDuration tracks expression evaluation duration in seconds
	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "trellis",
			Subsystem: "computation",
			Name:      "evaluation_duration_seconds",
			Help:      "Duration of computed property evaluations in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	// StalenessMarksTotal tracks properties marked stale by propagation
	StalenessMarksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "staleness",
			Name:      "marks_total",
			Help:      "Total number of properties marked stale by propagation",
		},
	)

	// BroadcastFramesTotal tracks subscription frames fanned out by outcome
	BroadcastFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "subscriptions",
			Name:      "broadcast_frames_total",
			Help:      "Total number of event frames fanned out to subscribers",
		},
		[]string{"status"},
	)

	// ActiveSockets tracks currently connected websocket clients
	ActiveSockets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trellis",
			Subsystem: "subscriptions",
			Name:      "active_sockets",
			Help:      "Number of currently connected websocket clients",
		},
	)

	// KafkaMessagesPublished tracks event re-publications to Kafka
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of events published to Kafka",
		},
		[]string{"topic", "status"},
	)
)

// RecordEntityWrite records an entity mutation metric
func RecordEntityWrite(operation, status string) {
	EntityWritesTotal.WithLabelValues(operation, status).Inc()
}

// RecordEvaluation records a computed property evaluation metric
func RecordEvaluation(status string, durationSeconds float64) {
	EvaluationsTotal.WithLabelValues(status).Inc()
	EvaluationDuration.Observe(durationSeconds)
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}
