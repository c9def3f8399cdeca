package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/docrag-go/internal/embedcache"
)

// Query outcomes recorded in docrag_query_total.
const (
	outcomeOK        = "ok"
	outcomeEmpty     = "empty"
	outcomeError     = "error"
	outcomeGenerator = "generator_error"
)

// engineMetrics holds all Prometheus metrics owned by the engine.
type engineMetrics struct {
	// ingestChunks counts chunks seen by ingest, partitioned by result:
	// "indexed", "duplicate", or "skipped" (already indexed for the source).
	ingestChunks *prometheus.CounterVec

	// ingestDuration records the wall-clock duration of Ingest calls.
	ingestDuration prometheus.Histogram

	// queryTotal counts Query calls by outcome.
	queryTotal *prometheus.CounterVec

	// queryDuration records Query latency by outcome.
	queryDuration *prometheus.HistogramVec

	// indexSize is the number of entries in the vector index.
	indexSize prometheus.Gauge
}

// newEngineMetrics registers engine metrics against reg. When ce is non-nil
// the embedding cache hit and miss counters are exported as counter funcs.
func newEngineMetrics(reg prometheus.Registerer, ce *embedcache.CachingEmbedder) *engineMetrics {
	factory := promauto.With(reg)

	m := &engineMetrics{
		ingestChunks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Chunks seen by ingest, partitioned by result.",
		}, []string{"result"}),

		ingestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docrag",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of ingest calls.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),

		queryTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "query",
			Name:      "total",
			Help:      "Total number of queries, partitioned by outcome.",
		}, []string{"outcome"}),

		queryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docrag",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Latency of queries including generation.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 120},
		}, []string{"outcome"}),

		indexSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "docrag",
			Subsystem: "index",
			Name:      "size",
			Help:      "Number of entries in the vector index.",
		}),
	}

	if ce != nil {
		for _, result := range []string{"hit", "miss"} {
			factory.NewCounterFunc(prometheus.CounterOpts{
				Namespace:   "docrag",
				Subsystem:   "embed_cache",
				Name:        "requests_total",
				Help:        "Embedding cache lookups, partitioned by result.",
				ConstLabels: prometheus.Labels{"result": result},
			}, func() float64 {
				hits, misses := ce.Counts()
				if result == "hit" {
					return float64(hits)
				}
				return float64(misses)
			})
		}
	}
	return m
}
