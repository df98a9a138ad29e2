// Package metrics exposes prometheus collectors for the ingestion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all prometheus metrics for crawls and the sync queue.
type Metrics struct {
	FilesProcessed  prometheus.Counter
	SailingsCreated prometheus.Counter
	SailingsUpdated prometheus.Counter
	FileFailures    *prometheus.CounterVec
	CrawlDuration   prometheus.Histogram
	QueueDepth      prometheus.Gauge
	StuckJobs       prometheus.Gauge
	LiveWorkers     prometheus.Gauge
}

// NewMetrics registers and returns all collectors under the given namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		FilesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_processed_total",
			Help:      "The total number of remote files run through the pipeline",
		}),
		SailingsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sailings_created_total",
			Help:      "The total number of sailings created",
		}),
		SailingsUpdated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sailings_updated_total",
			Help:      "The total number of sailings updated",
		}),
		FileFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_failures_total",
			Help:      "The total number of per-file failures by kind",
		}, []string{"kind"}),
		CrawlDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "crawl_duration_seconds",
			Help:      "Duration of full crawl runs",
			Buckets:   prometheus.ExponentialBuckets(60, 2, 10),
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_queue_depth",
			Help:      "Number of waiting sync jobs",
		}),
		StuckJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_jobs_stuck",
			Help:      "Number of active jobs past the stuck threshold",
		}),
		LiveWorkers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_workers_live",
			Help:      "Number of queue workers with a recent heartbeat",
		}),
	}
}
