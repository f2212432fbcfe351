// Package metrics defines and registers the Prometheus collectors exposed
// by the notification delivery service's boundary adapter.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every Prometheus collector used by the service.
type Metrics struct {
	// ---------------------------------------------------------------
	// Delivery Engine
	// ---------------------------------------------------------------

	// PendingCount is set to the number of rows returned by each batch
	// claim, so it never exceeds the batch size and reads zero once a drain
	// has emptied the queue.
	PendingCount prometheus.Gauge

	// DeliveredBusTotal counts notifications delivered successfully via the
	// bus sink.
	DeliveredBusTotal prometheus.Counter

	// DeliveredPushTotal counts notifications delivered successfully via
	// the push sink.
	DeliveredPushTotal prometheus.Counter

	// FailedTotal counts notifications that recorded a failure outcome,
	// transient or permanent.
	FailedTotal prometheus.Counter

	// PermanentFailuresTotal counts notifications that exhausted
	// max_retries and were abandoned.
	PermanentFailuresTotal prometheus.Counter

	// CycleDuration observes how long a single process_all_pending drain
	// took, start to finish.
	CycleDuration prometheus.Histogram

	// ---------------------------------------------------------------
	// Bus
	// ---------------------------------------------------------------

	// BusConnections tracks the number of currently connected WebSocket
	// clients.
	BusConnections prometheus.Gauge

	// ---------------------------------------------------------------
	// Push
	// ---------------------------------------------------------------

	// DevicesRemovedTotal counts push tokens removed after an
	// InvalidToken classification.
	DevicesRemovedTotal prometheus.Counter

	// BearerRefreshTotal counts OAuth2 bearer refresh attempts, labeled by
	// outcome (success/error).
	BearerRefreshTotal *prometheus.CounterVec

	// ---------------------------------------------------------------
	// Change Listener
	// ---------------------------------------------------------------

	// ListenerReconnectsTotal counts LISTEN session reconnect attempts
	// after a transport error.
	ListenerReconnectsTotal prometheus.Counter
}

// New creates and registers every collector against registerer.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{}

	m.PendingCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notifyd_pending_count",
		Help: "Number of unprocessed notifications observed at the last batch drain.",
	})
	registerer.MustRegister(m.PendingCount)

	m.DeliveredBusTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifyd_total_delivered_bus",
		Help: "Total notifications delivered successfully via the bus sink.",
	})
	registerer.MustRegister(m.DeliveredBusTotal)

	m.DeliveredPushTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifyd_total_delivered_push",
		Help: "Total notifications delivered successfully via the push sink.",
	})
	registerer.MustRegister(m.DeliveredPushTotal)

	m.FailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifyd_total_failed",
		Help: "Total notifications that recorded a failure outcome.",
	})
	registerer.MustRegister(m.FailedTotal)

	m.PermanentFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifyd_permanent_failures_total",
		Help: "Total notifications abandoned after exhausting max_retries.",
	})
	registerer.MustRegister(m.PermanentFailuresTotal)

	m.CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "notifyd_cycle_duration_seconds",
		Help:    "Duration of a single process_all_pending drain.",
		Buckets: prometheus.DefBuckets,
	})
	registerer.MustRegister(m.CycleDuration)

	m.BusConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notifyd_bus_connections",
		Help: "Current number of connected WebSocket bus clients.",
	})
	registerer.MustRegister(m.BusConnections)

	m.DevicesRemovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifyd_devices_removed_total",
		Help: "Total device tokens removed after an invalid-token response.",
	})
	registerer.MustRegister(m.DevicesRemovedTotal)

	m.BearerRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyd_bearer_refresh_total",
		Help: "Total OAuth2 bearer refresh attempts, labeled by outcome.",
	}, []string{"outcome"})
	registerer.MustRegister(m.BearerRefreshTotal)

	m.ListenerReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifyd_listener_reconnects_total",
		Help: "Total LISTEN session reconnect attempts after a transport error.",
	})
	registerer.MustRegister(m.ListenerReconnectsTotal)

	return m
}
