package metrics

import "github.com/prometheus/client_golang/prometheus"

// RealtimeMetrics holds Prometheus metrics for the connection hub.
type RealtimeMetrics struct {
	ActiveConnections prometheus.Gauge
	ActiveRooms       prometheus.Gauge
	EventsDispatched  *prometheus.CounterVec
	FramesDelivered   prometheus.Counter
	FramesDropped     prometheus.Counter
	CommandQueueDepth prometheus.Gauge
	HubPanics         prometheus.Counter
}

// NewRealtimeMetrics creates and registers hub metrics on the given registry.
func NewRealtimeMetrics(reg prometheus.Registerer) *RealtimeMetrics {
	m := &RealtimeMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "active_connections",
			Help:      "Number of registered WebSocket connections.",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "active_rooms",
			Help:      "Number of rooms with at least one member.",
		}),
		EventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_dispatched_total",
			Help:      "Total number of events dispatched, by kind and scope.",
		}, []string{"kind", "scope"}),
		FramesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "frames_delivered_total",
			Help:      "Total number of event frames queued on a connection.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "frames_dropped_total",
			Help:      "Total number of event frames dropped because a connection was not writable.",
		}),
		CommandQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "command_queue_depth",
			Help:      "Pending commands in the hub command channel.",
		}),
		HubPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "hub_panics_total",
			Help:      "Total number of panics recovered in the hub goroutine.",
		}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.ActiveRooms,
		m.EventsDispatched,
		m.FramesDelivered,
		m.FramesDropped,
		m.CommandQueueDepth,
		m.HubPanics,
	)
	return m
}
