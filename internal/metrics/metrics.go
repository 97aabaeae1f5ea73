// Package metrics exposes Prometheus instrumentation for the handoff service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handoff",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "handoff",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"method", "route"},
	)

	// Lifecycle transitions by target status.
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handoff",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Handoff session status transitions",
		},
		[]string{"status"},
	)

	RejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handoff",
			Subsystem: "session",
			Name:      "rejected_total",
			Help:      "Rejected handoff operations by operation and error code",
		},
		[]string{"operation", "code"},
	)

	WaitingSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "handoff",
			Subsystem: "session",
			Name:      "waiting",
			Help:      "Sessions currently waiting for an agent",
		},
	)

	AcceptLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "handoff",
			Subsystem: "session",
			Name:      "accept_latency_seconds",
			Help:      "Time from request to acceptance",
			Buckets:   []float64{1, 5, 10, 20, 30, 45, 60},
		},
	)

	// Messages
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handoff",
			Subsystem: "message",
			Name:      "total",
			Help:      "Handoff messages delivered by sender",
		},
		[]string{"sender"},
	)

	DuplicatesSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handoff",
			Subsystem: "message",
			Name:      "duplicates_suppressed_total",
			Help:      "Messages dropped by duplicate suppression",
		},
		[]string{"sender"},
	)

	// Realtime transport
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "handoff",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open websocket connections by role",
		},
		[]string{"role"},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handoff",
			Subsystem: "ws",
			Name:      "events_delivered_total",
			Help:      "Events written to client send buffers",
		},
		[]string{"type"},
	)

	RelayErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "handoff",
			Subsystem: "ws",
			Name:      "relay_errors_total",
			Help:      "Failed relay publishes",
		},
	)

	// Out-of-band notifications
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handoff",
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Admin notifications by channel and result",
		},
		[]string{"channel", "result"},
	)

	// Background jobs
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handoff",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Background job runs by job and result",
		},
		[]string{"job", "result"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
