package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_tracking"

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "active_sessions", Help: "Number of rides currently tracked"})

	FixesProcessed = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "fixes_processed_total", Help: "GPS fixes applied to a session"})
	FixesRejected  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "fixes_rejected_total", Help: "GPS fixes ignored"},
		[]string{"reason"},
	)
	SpeedSamplesDiscarded = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "speed_samples_discarded_total", Help: "Speed samples dropped by the jitter filter"})
	GPSErrors             = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "gps_errors_total", Help: "GPS watch errors reported by devices"},
		[]string{"kind"},
	)

	CheckpointsReached = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "checkpoints_reached_total", Help: "Checkpoints reached"})

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_sent_total", Help: "Notifications delivered"},
		[]string{"kind"},
	)
	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_failed_total", Help: "Notifications that failed to deliver"},
		[]string{"kind"},
	)

	DirectionsLatency  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "directions_latency_seconds", Help: "Directions lookup latency seconds"})
	DirectionsFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "directions_failures_total", Help: "Failed directions lookups"})

	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "location_publish_failures_total", Help: "Failed realtime location publishes"})

	PaymentsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "payments_settled_total", Help: "Held fares settled at ride completion"},
		[]string{"result"},
	)

	ObserversConnected = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "observers_connected", Help: "Connected observer sockets"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
