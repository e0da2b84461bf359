package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "footfall"

// AttributionMetrics holds all Prometheus metrics for the attribution pipeline.
type AttributionMetrics struct {
	EventsTotal           *prometheus.CounterVec
	WriteAttempts         *prometheus.CounterVec
	QueueDepth            prometheus.Gauge
	Warmups               *prometheus.CounterVec
	PartitionsProvisioned *prometheus.CounterVec
	PartitionCacheHits    prometheus.Counter
	PartitionCacheMisses  prometheus.Counter
	QueryDuration         *prometheus.HistogramVec
}

// NewAttributionMetrics initializes the metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func NewAttributionMetrics(reg prometheus.Registerer) *AttributionMetrics {
	factory := promauto.With(reg)
	return &AttributionMetrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "events_total",
			Help:      "Total number of attribution events by partition kind and outcome.",
		}, []string{"kind", "status"}), // status: enqueued, persisted, dropped_queue_full, dropped_retries, dropped_closed
		WriteAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "write_attempts_total",
			Help:      "Total number of storage write attempts by result.",
		}, []string{"result"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "queue_depth",
			Help:      "Number of events waiting in the in-memory write queue.",
		}),
		Warmups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "warmups_total",
			Help:      "Storage warmup checks by result.",
		}, []string{"result"}),
		PartitionsProvisioned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "partitions_provisioned_total",
			Help:      "Create-if-not-exists calls issued to storage by partition kind.",
		}, []string{"kind"}),
		PartitionCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "cache_hits_total",
			Help:      "Total number of partition handle cache hits.",
		}),
		PartitionCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "cache_misses_total",
			Help:      "Total number of partition handle cache misses.",
		}),
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Latency of reporting queries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query"}),
	}
}
