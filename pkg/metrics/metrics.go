package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Actor table metrics (spec.md §4.5)
	ActorsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "theater_actors_total",
			Help: "Total number of actors by phase",
		},
		[]string{"phase"},
	)

	ActorsSpawnedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "theater_actors_spawned_total",
			Help: "Total number of actors successfully spawned",
		},
	)

	ActorsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "theater_actors_failed_total",
			Help: "Total number of actors that reached the Failed phase",
		},
	)

	ActorSpawnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "theater_actor_spawn_duration_seconds",
			Help:    "Time taken to spawn an actor (component load + handler activation + init)",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Supervisor metrics (spec.md §4.7)
	RestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "theater_restarts_total",
			Help: "Total number of supervisor-initiated restarts by policy outcome",
		},
		[]string{"outcome"},
	)

	// Router / messaging metrics (spec.md §4.4, §4.6)
	MessagesRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "theater_messages_routed_total",
			Help: "Total number of messages delivered through the router by kind",
		},
		[]string{"kind"},
	)

	ChannelsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "theater_channels_total",
			Help: "Total number of channels by state",
		},
		[]string{"state"},
	)

	ChannelOpenDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "theater_channel_open_duration_seconds",
			Help:    "Time taken for a channel open handshake to resolve (accept/reject)",
			Buckets: prometheus.DefBuckets,
		},
	)

	ChannelsRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "theater_channels_rejected_total",
			Help: "Total number of channel open requests rejected by the target actor",
		},
	)

	// Chain metrics (spec.md §4.3)
	ChainEventsAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "theater_chain_events_appended_total",
			Help: "Total number of events appended across every actor's chain",
		},
	)

	// Content store metrics (spec.md §4.2)
	StorePutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "theater_store_puts_total",
			Help: "Total number of content-addressed blobs written to the store",
		},
	)

	StoreGetDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "theater_store_get_duration_seconds",
			Help:    "Time taken to read a blob from the content store",
			Buckets: prometheus.DefBuckets,
		},
	)

	// External Management Surface metrics (spec.md §8)
	ManagementRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "theater_management_requests_total",
			Help: "Total number of management-surface requests by operation and status",
		},
		[]string{"op", "status"},
	)

	ManagementRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "theater_management_request_duration_seconds",
			Help:    "Management-surface request duration in seconds by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	ManagementConnectionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "theater_management_connections_total",
			Help: "Total number of open External Management Surface connections",
		},
	)

	// Secrets metrics (pkg/security)
	SecretsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "theater_secrets_total",
			Help: "Total number of secrets held in the security database",
		},
	)
)

func init() {
	prometheus.MustRegister(ActorsTotal)
	prometheus.MustRegister(ActorsSpawnedTotal)
	prometheus.MustRegister(ActorsFailedTotal)
	prometheus.MustRegister(ActorSpawnDuration)
	prometheus.MustRegister(RestartsTotal)
	prometheus.MustRegister(MessagesRoutedTotal)
	prometheus.MustRegister(ChannelsTotal)
	prometheus.MustRegister(ChannelOpenDuration)
	prometheus.MustRegister(ChannelsRejectedTotal)
	prometheus.MustRegister(ChainEventsAppendedTotal)
	prometheus.MustRegister(StorePutsTotal)
	prometheus.MustRegister(StoreGetDuration)
	prometheus.MustRegister(ManagementRequestsTotal)
	prometheus.MustRegister(ManagementRequestDuration)
	prometheus.MustRegister(ManagementConnectionsTotal)
	prometheus.MustRegister(SecretsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
