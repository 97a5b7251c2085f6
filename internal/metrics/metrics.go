// Package metrics exposes the station node's internal Prometheus gauges and
// counters: queue depth, concurrency retries, central-link state, and
// reconciliation drops.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// QueueDepth tracks the number of non-DEPARTED vehicles per destination.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stationnode",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current number of vehicles queued per destination.",
	}, []string{"destination_id"})

	// ConcurrentConflictsTotal counts CAS/serialization retries absorbed by
	// the booking allocator's retry-once policy.
	ConcurrentConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stationnode",
		Subsystem: "booking",
		Name:      "concurrent_conflicts_total",
		Help:      "Number of concurrent conflicts encountered while allocating seats.",
	}, []string{"outcome"})

	// StaleInboundSyncDropsTotal counts inbound vehicle sync entries the
	// Reconciler discards: a vehicle not authorized for this station
	// (entity "vehicle") or a driver record missing its CIN (entity "driver").
	StaleInboundSyncDropsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stationnode",
		Subsystem: "reconciler",
		Name:      "stale_inbound_sync_drops_total",
		Help:      "Number of inbound vehicle sync frames dropped as stale.",
	}, []string{"entity"})

	// CentralLinkState reports the CentralLink connection state as a gauge
	// (0=disconnected,1=testing,2=connecting,3=connected,4=authenticated).
	CentralLinkState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stationnode",
		Subsystem: "centrallink",
		Name:      "state",
		Help:      "Current CentralLink connection state (0=disconnected,1=testing,2=connecting,3=connected,4=authenticated).",
	})

	// CentralLinkReconnectsTotal counts reconnection attempts.
	CentralLinkReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stationnode",
		Subsystem: "centrallink",
		Name:      "reconnects_total",
		Help:      "Number of CentralLink reconnect attempts.",
	})

	// EventBusDroppedTotal counts events dropped because the event bus queue was full.
	EventBusDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stationnode",
		Subsystem: "eventbus",
		Name:      "dropped_total",
		Help:      "Number of events dropped due to a full queue.",
	})

	// PendingTripsGauge tracks trips still owed to central.
	PendingTripsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stationnode",
		Subsystem: "reconciler",
		Name:      "pending_trips",
		Help:      "Number of trips not yet synced to central.",
	})
)

// Registry is the node's dedicated Prometheus registry, kept separate from
// the global default so tests can build a fresh one per case.
func NewRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		QueueDepth,
		ConcurrentConflictsTotal,
		StaleInboundSyncDropsTotal,
		CentralLinkState,
		CentralLinkReconnectsTotal,
		EventBusDroppedTotal,
		PendingTripsGauge,
	)
	return r
}
