package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the dashboard client.
type Metrics struct {
	FramesReceived prometheus.Counter
	FramesDropped  prometheus.Counter
	RenderErrors   prometheus.Counter
	RenderSeconds  prometheus.Histogram

	ReconnectAttempts prometheus.Counter
	ConnectionState   prometheus.Gauge

	NotificationsAdded prometheus.Counter
	FeedSize           prometheus.Gauge
	FeedUnread         prometheus.Gauge
	PersistErrors      prometheus.Counter

	IncidentsReceived  prometheus.Counter
	DuplicateIncidents prometheus.Counter

	registry *prometheus.Registry
}

// New creates the metric set on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigia_frames_received_total",
			Help: "Frame events applied to the live state",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigia_frames_dropped_total",
			Help: "Frame events dropped as malformed",
		}),
		RenderErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigia_render_errors_total",
			Help: "Frames that failed to decode during rendering",
		}),
		RenderSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigia_render_seconds",
			Help:    "Overlay composition latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigia_reconnect_attempts_total",
			Help: "Connection failures observed by the retry policy",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vigia_connection_state",
			Help: "Connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed)",
		}),
		NotificationsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigia_notifications_added_total",
			Help: "Notifications accepted into the feed",
		}),
		FeedSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vigia_notification_feed_size",
			Help: "Current notification feed length",
		}),
		FeedUnread: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vigia_notification_feed_unread",
			Help: "Current unread notification count",
		}),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigia_persist_errors_total",
			Help: "Failed notification feed writes",
		}),
		IncidentsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigia_incidents_received_total",
			Help: "Incident events ingested",
		}),
		DuplicateIncidents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigia_duplicate_incidents_total",
			Help: "Incident events whose id was already seen",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.FramesReceived, m.FramesDropped, m.RenderErrors, m.RenderSeconds,
		m.ReconnectAttempts, m.ConnectionState,
		m.NotificationsAdded, m.FeedSize, m.FeedUnread, m.PersistErrors,
		m.IncidentsReceived, m.DuplicateIncidents,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
