// Package metrics holds the broker's Prometheus instruments. They are the
// minimum counters an external monitoring collaborator needs: per-queue
// traffic, redelivery and dead-letter volumes, and the depth/age gauges
// the monitor package keeps fresh.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Envelopes accepted by producers, per queue.
	MessagesEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parcelmq_messages_enqueued_total",
			Help: "Total number of envelopes pushed by producers",
		},
		[]string{"queue"},
	)

	// Envelopes handed to handlers, per queue.
	MessagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parcelmq_messages_delivered_total",
			Help: "Total number of envelopes delivered to handlers",
		},
		[]string{"queue"},
	)

	// Envelopes re-pushed after a handler failure, per queue.
	MessagesRedelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parcelmq_messages_redelivered_total",
			Help: "Total number of envelopes requeued for redelivery",
		},
		[]string{"queue"},
	)

	// Envelopes routed to a dead-letter queue, per origin queue.
	MessagesDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parcelmq_messages_dead_lettered_total",
			Help: "Total number of envelopes routed to dead-letter queues",
		},
		[]string{"queue"},
	)

	// Stored bytes that failed to decode, per queue.
	MessagesMalformed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parcelmq_messages_malformed_total",
			Help: "Total number of quarantined malformed envelopes",
		},
		[]string{"queue"},
	)

	// Handler invocations that returned an error, per queue.
	HandlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parcelmq_handler_failures_total",
			Help: "Total number of failed handler invocations",
		},
		[]string{"queue"},
	)

	// Store operations that failed with unavailability.
	StoreUnavailable = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parcelmq_store_unavailable_total",
			Help: "Total number of store operations that failed as unavailable",
		},
		[]string{"op"},
	)

	// Point-in-time queue depth, sampled by the monitor collector.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "parcelmq_queue_depth",
			Help: "Current number of undelivered envelopes per queue",
		},
		[]string{"queue"},
	)

	// Age of the longest-waiting envelope, sampled by the monitor
	// collector.
	QueueOldestAge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "parcelmq_queue_oldest_age_seconds",
			Help: "Age in seconds of the oldest waiting envelope per queue",
		},
		[]string{"queue"},
	)

	// Dead-letter depth, sampled by the monitor collector.
	DeadLetterDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "parcelmq_dead_letter_depth",
			Help: "Current number of envelopes in dead-letter queues, per origin queue",
		},
		[]string{"queue"},
	)
)
