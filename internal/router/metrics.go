package router

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	events     *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	deliveries *prometheus.CounterVec
	dropped    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaybot",
			Subsystem: "router",
			Name:      "events_total",
			Help:      "Inbound events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relaybot",
			Subsystem: "router",
			Name:      "handle_duration_seconds",
			Help:      "Time spent handling one event.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"kind"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaybot",
			Subsystem: "router",
			Name:      "fanout_deliveries_total",
			Help:      "Relay and broadcast deliveries by result.",
		}, []string{"result"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaybot",
			Subsystem: "router",
			Name:      "inbox_dropped_total",
			Help:      "Events dropped because the inbox was full.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.duration, m.deliveries, m.dropped)
	}
	return m
}

func (m *metrics) observe(kind string, out Outcome, elapsed time.Duration) {
	m.events.WithLabelValues(kind, string(out.Kind)).Inc()
	m.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
}
