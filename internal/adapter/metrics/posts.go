package metrics

import "github.com/prometheus/client_golang/prometheus"

// PostMetrics holds Prometheus metrics for post, like and comment writes.
type PostMetrics struct {
	Writes         *prometheus.CounterVec
	NotifyFailures *prometheus.CounterVec
	ProfileLookups *prometheus.CounterVec
}

// NewPostMetrics creates and registers write path metrics on the given registry.
func NewPostMetrics(reg prometheus.Registerer) *PostMetrics {
	m := &PostMetrics{
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Total number of committed writes, by event kind.",
		}, []string{"kind"}),
		NotifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Total number of committed writes whose real-time notification failed, by event kind.",
		}, []string{"kind"}),
		ProfileLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "profile_lookups_total",
			Help:      "Total number of profile lookups, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.Writes, m.NotifyFailures, m.ProfileLookups)
	return m
}
