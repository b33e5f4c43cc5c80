package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the operator-facing process metrics. The per-message
// ProcessingMetrics published to the broker are a separate path.
type Collector struct {
	Processed    prometheus.Counter
	Failed       *prometheus.CounterVec
	DeadLettered prometheus.Counter
	FanoutSent   prometheus.Counter
	Connections  prometheus.Gauge
	Latency      prometheus.Histogram
}

// NewCollector creates a collector registered on the default registerer
func NewCollector() *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer)
}

// NewCollectorWith creates a collector registered on the given registerer
func NewCollectorWith(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_messages_processed_total",
			Help: "Messages that completed the full pipeline.",
		}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_messages_failed_total",
			Help: "Messages that failed a pipeline stage, by error type.",
		}, []string{"error_type"}),
		DeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_messages_dead_lettered_total",
			Help: "Messages routed to a dead-letter topic.",
		}),
		FanoutSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_fanout_deliveries_total",
			Help: "Envelopes delivered to live-client connections.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_live_connections",
			Help: "Currently registered live-client connections.",
		}),
		Latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "telemetry_processing_latency_seconds",
			Help:    "Per-message pipeline latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	reg.MustRegister(c.Processed, c.Failed, c.DeadLettered, c.FanoutSent, c.Connections, c.Latency)

	return c
}
