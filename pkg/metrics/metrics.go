package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	// Queue drainer metrics
	QueueNotificationsSent   prometheus.Counter
	QueueNotificationsFailed prometheus.Counter
	QueueDrainLatency        prometheus.Histogram
	QueueBatchSize           prometheus.Histogram
	QueueRetries             *prometheus.CounterVec

	// Push provider metrics
	PushRequests *prometheus.CounterVec
	PushLatency  prometheus.Histogram
	PushCancels  *prometheus.CounterVec

	// Presence metrics
	PresenceOnlineUsers prometheus.Gauge
	PresenceEvents      *prometheus.CounterVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// New creates and registers all pipeline metrics
func New(namespace string) *Metrics {
	return &Metrics{
		QueueNotificationsSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_notifications_sent_total",
			Help:      "Total number of queued notifications dispatched successfully",
		}),
		QueueNotificationsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_notifications_failed_total",
			Help:      "Total number of queued notifications that reached terminal failure",
		}),
		QueueDrainLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_drain_duration_seconds",
			Help:      "Time spent draining a batch of queued notifications",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		QueueBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_batch_size",
			Help:      "Number of rows claimed per drainer pass",
			Buckets:   []float64{0, 1, 5, 10, 25, 50},
		}),
		QueueRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_retry_attempts_total",
			Help:      "Total number of retry attempts for queued notifications",
		}, []string{"notification_type"}),

		PushRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_requests_total",
			Help:      "Total number of push provider send requests",
		}, []string{"kind", "status"}),
		PushLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "push_request_duration_seconds",
			Help:      "Duration of push provider requests",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		PushCancels: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_cancels_total",
			Help:      "Total number of scheduled push cancellation requests",
		}, []string{"status"}),

		PresenceOnlineUsers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "presence_online_users",
			Help:      "Current number of users considered online",
		}),
		PresenceEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_events_total",
			Help:      "Total number of presence channel events applied",
		}, []string{"event"}),

		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}
