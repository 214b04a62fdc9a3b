package gateway

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	invocations *prometheus.CounterVec
	inflight    prometheus.Gauge
	waiting     prometheus.Gauge
	duration    *prometheus.HistogramVec
	queueWait   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaybot",
			Subsystem: "gateway",
			Name:      "invocations_total",
			Help:      "Back-end invocations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relaybot",
			Subsystem: "gateway",
			Name:      "inflight",
			Help:      "Invocations currently holding a concurrency slot.",
		}),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relaybot",
			Subsystem: "gateway",
			Name:      "waiting",
			Help:      "Invocations queued for a concurrency slot.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relaybot",
			Subsystem: "gateway",
			Name:      "invocation_duration_seconds",
			Help:      "Time spent in the back end, excluding queueing.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relaybot",
			Subsystem: "gateway",
			Name:      "queue_wait_seconds",
			Help:      "Time spent waiting for a concurrency slot.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.invocations, m.inflight, m.waiting, m.duration, m.queueWait)
	}
	return m
}
