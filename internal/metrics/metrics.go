package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// singleton instance
	instance *Metrics
	once     sync.Once
)

// Metrics holds Prometheus metrics for subwatch
type Metrics struct {
	// Webhook ingress metrics
	WebhookRequestsTotal  *prometheus.CounterVec
	HandshakesTotal       prometheus.Counter
	NotificationsTotal    *prometheus.CounterVec
	NotificationsDropped  *prometheus.CounterVec
	TokenValidationsTotal *prometheus.CounterVec

	// Decryption pipeline metrics
	DecryptionsTotal   *prometheus.CounterVec
	DecryptionDuration prometheus.Histogram

	// Relay metrics
	RelayListenersActive prometheus.Gauge
	RelayEventsPublished *prometheus.CounterVec
	RelayEventsDropped   prometheus.Counter

	// Store metrics
	StoreOperations *prometheus.CounterVec
	CacheHitsTotal  *prometheus.CounterVec

	// Lifecycle metrics
	RenewalsTotal *prometheus.CounterVec
}

// GetMetrics returns the singleton metrics instance
func GetMetrics() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	return &Metrics{
		WebhookRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subwatch_webhook_requests_total",
				Help: "Total webhook requests by endpoint",
			},
			[]string{"endpoint"},
		),
		HandshakesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "subwatch_handshakes_total",
				Help: "Total endpoint validation handshakes answered",
			},
		),
		NotificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subwatch_notifications_total",
				Help: "Total notifications processed by kind",
			},
			[]string{"kind"},
		),
		NotificationsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subwatch_notifications_dropped_total",
				Help: "Total notifications dropped by reason",
			},
			[]string{"reason"},
		),
		TokenValidationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subwatch_token_validations_total",
				Help: "Total validation token batch checks by result",
			},
			[]string{"result"},
		),
		DecryptionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subwatch_decryptions_total",
				Help: "Total payload decryption attempts by result",
			},
			[]string{"result"},
		),
		DecryptionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "subwatch_decryption_duration_seconds",
				Help:    "Duration of the unwrap-verify-decrypt pipeline",
				Buckets: prometheus.DefBuckets,
			},
		),
		RelayListenersActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "subwatch_relay_listeners_active",
				Help: "Currently connected relay listeners",
			},
		),
		RelayEventsPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subwatch_relay_events_published_total",
				Help: "Total events published to relay channels by type",
			},
			[]string{"type"},
		),
		RelayEventsDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "subwatch_relay_events_dropped_total",
				Help: "Events dropped because a listener buffer was full",
			},
		),
		StoreOperations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subwatch_store_operations_total",
				Help: "Total subscription store operations by type and result",
			},
			[]string{"operation", "result"},
		),
		CacheHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subwatch_cache_total",
				Help: "Subscription cache lookups by result",
			},
			[]string{"result"},
		),
		RenewalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subwatch_renewals_total",
				Help: "Subscription renewal attempts by result",
			},
			[]string{"result"},
		),
	}
}
